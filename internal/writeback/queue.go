// Package writeback holds the write-behind queues and the drainer that applies
// acknowledged writes to the backing database.
package writeback

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/mutator/internal/core"
)

var (
	// ErrQueueClosed is returned when trying to use a closed queue.
	ErrQueueClosed = errors.New("write-back queue is closed")

	// ErrQueueFull is returned by bounded queues that cannot accept more operations.
	ErrQueueFull = errors.New("write-back queue is full")

	// ErrInvalidOperation is returned when an invalid operation is provided.
	ErrInvalidOperation = errors.New("invalid write operation")
)

// Validate checks that operation carries what its type needs.
func Validate(operation *core.WriteOperation) error {
	if operation == nil {
		return ErrInvalidOperation
	}
	if operation.Resource == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidOperation)
	}

	switch operation.Operation {
	case core.OperationCreate:
		if operation.Data == nil {
			return fmt.Errorf("%w: create requires data", ErrInvalidOperation)
		}
	case core.OperationUpdate:
		if operation.Key == nil || operation.Data == nil {
			return fmt.Errorf("%w: update requires key and data", ErrInvalidOperation)
		}
	case core.OperationDelete:
		if operation.Key == nil {
			return fmt.Errorf("%w: delete requires key", ErrInvalidOperation)
		}
	case core.OperationUpdateMany:
		if len(operation.Keys) == 0 || operation.Data == nil {
			return fmt.Errorf("%w: updateMany requires keys and data", ErrInvalidOperation)
		}
	case core.OperationDeleteMany:
		if len(operation.Keys) == 0 {
			return fmt.Errorf("%w: deleteMany requires keys", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidOperation, operation.Operation)
	}
	return nil
}

// prepare validates operation and fills its ID and timestamp when unset.
func prepare(operation *core.WriteOperation) error {
	if err := Validate(operation); err != nil {
		return err
	}
	if operation.ID == "" {
		operation.ID = uuid.NewString()
	}
	if operation.Timestamp.IsZero() {
		operation.Timestamp = time.Now()
	}
	return nil
}

func encode(operation *core.WriteOperation) ([]byte, error) {
	data, err := json.Marshal(operation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal write operation: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*core.WriteOperation, error) {
	var op core.WriteOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal write operation: %w", err)
	}
	return &op, nil
}
