package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("smtp 421 service unavailable")

	transient := Transient(cause)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.True(t, errors.Is(transient, cause))

	permanent := Permanent(errors.New("smtp 550 no such user"))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	fake := NewFake()

	_, err := r.Get(types.ChannelEmail)
	assert.ErrorIs(t, err, ErrNoAdapter)

	r.Register(types.ChannelEmail, fake)
	a, err := r.Get(types.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, fake, a)
}

func TestFake_RecordsAndScripts(t *testing.T) {
	fake := NewFake()
	lead := &store.Lead{Email: "a@b.com"}
	ctx := context.Background()

	res, err := fake.Send(ctx, lead, Content{Subject: "Hi", Body: "There"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ExternalRef)

	fake.FailWith(Transient(errors.New("timeout")))
	_, err = fake.Send(ctx, lead, Content{Subject: "Again"})
	assert.True(t, IsTransient(err))

	// Queue drained, back to succeeding.
	_, err = fake.Send(ctx, lead, Content{Subject: "Third"})
	require.NoError(t, err)

	sent := fake.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Hi", sent[0].Content.Subject)
	assert.Equal(t, 3, fake.Calls())
}
