package hybrid

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/go-playground/validator/v10"
)

// SyncMode decides when local mutations are queued for the shared store.
type SyncMode string

const (
	// Immediate queues every mutation and dispatches it right away.
	Immediate SyncMode = "immediate"
	// Batched records mutated ids and queues them on a timer.
	Batched SyncMode = "batched"
	// Manual records mutated ids and queues them only on Flush.
	Manual SyncMode = "manual"
)

type Config struct {
	SyncMode        SyncMode      `json:"sync_mode" yaml:"sync_mode" validate:"required,oneof=immediate batched manual"`
	BatchInterval   time.Duration `json:"batch_interval" yaml:"batch_interval" validate:"gte=0"`
	RealtimeEnabled bool          `json:"realtime_enabled" yaml:"realtime_enabled"`
}

func DefaultConfig() Config {
	return Config{SyncMode: Immediate, BatchInterval: 5 * time.Second}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: hybrid config: %v", common.ErrValidation, err)
	}
	if c.SyncMode == Batched && c.BatchInterval <= 0 {
		return fmt.Errorf("%w: hybrid config: batched mode needs a positive batch interval", common.ErrValidation)
	}
	return nil
}
