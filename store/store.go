// Package store provides tenant-scoped repositories over GORM. Every
// repository method takes the tenant ID and applies it in the WHERE
// clause, so cross-tenant reads are structurally impossible.
package store

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/types"
)

// Store aggregates all repositories over one database handle.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	Tenants       *TenantStore
	Campaigns     *CampaignStore
	Leads         *LeadStore
	Activities    *ActivityStore
	Conversations *ConversationStore
	Replies       *ReplyStore
	CallTasks     *CallTaskStore
	ICPs          *ICPStore
	Assignments   *AssignmentStore
}

// New creates the repository aggregate.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	logger = logger.With(zap.String("component", "store"))
	return &Store{
		db:            db,
		logger:        logger,
		Tenants:       &TenantStore{db: db, logger: logger},
		Campaigns:     &CampaignStore{db: db, logger: logger},
		Leads:         &LeadStore{db: db, logger: logger},
		Activities:    &ActivityStore{db: db, logger: logger},
		Conversations: &ConversationStore{db: db, logger: logger},
		Replies:       &ReplyStore{db: db, logger: logger},
		CallTasks:     &CallTaskStore{db: db, logger: logger},
		ICPs:          &ICPStore{db: db, logger: logger},
		Assignments:   &AssignmentStore{db: db, logger: logger},
	}
}

// DB exposes the underlying handle for transaction composition.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return New(tx, s.logger)
}

// notFound maps gorm.ErrRecordNotFound to the shared error taxonomy.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewError(types.ErrNotFound, what+" not found")
	}
	return err
}
