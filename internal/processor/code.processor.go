package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/internal/queue"
	"github.com/nimasrn/number-market/pkg/logger"
)

type CodeRecorder interface {
	RecordCode(ctx context.Context, phone, code string) (*model.Number, error)
}

// CodeProcessor takes codes reported by the phone-session runtime.
type CodeProcessor struct {
	pool CodeRecorder
}

func NewCodeProcessor(pool CodeRecorder) *CodeProcessor {
	return &CodeProcessor{pool: pool}
}

func (p *CodeProcessor) GetType() string {
	return queue.KindCode
}

func (p *CodeProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var in model.IncomingCode
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		return fmt.Errorf("malformed code report %s: %w", msg.ID, err)
	}

	n, err := p.pool.RecordCode(ctx, in.Phone, in.Code)
	if err != nil {
		if retryable(err) {
			return err
		}
		logger.Warn("code report dropped", "phone", in.Phone, "error", err)
		return nil
	}
	if n != nil {
		logger.Debug("code attached", "phone", in.Phone, "number_id", n.ID, "status", n.Status)
	}
	return nil
}
