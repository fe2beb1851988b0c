package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tsaircargo/whatsapp-gateway/pkg/pg"
)

type HealthService struct {
	db *pg.DB
}

func NewHealthService(db *pg.DB) *HealthService {
	return &HealthService{db: db}
}

// Get pings the database. The probe is cheap enough to sit behind an
// unauthenticated endpoint.
func (s *HealthService) Get() error {
	if s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.db.Read(ctx).Exec("SELECT 1").Error; err != nil {
		return errors.Wrap(err, "database unreachable")
	}
	return nil
}
