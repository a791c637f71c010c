package observer

import (
	"github.com/JohnBaeGH/Upbit/internal/model"

	"go.uber.org/zap"
)

// LogObserver 把周期结果和成交写入结构化日志
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger.With(zap.String("component", "observer"))}
}

func (o *LogObserver) OnCycle(r model.CycleResult) {
	fields := []zap.Field{
		zap.String("Action", r.Action.String()),
		zap.Float64("Price", r.Price),
		zap.Bool("Executed", r.Executed),
		zap.Bool("Success", r.Success),
		zap.Duration("Took", r.Duration),
	}
	if r.Reason != "" {
		fields = append(fields, zap.String("Reason", r.Reason))
	}

	switch {
	case r.Failed:
		o.logger.Warn("Cycle failed", append(fields, zap.String("Error", r.Error))...)
	case r.Error != "":
		o.logger.Warn("Cycle completed with error", append(fields, zap.String("Error", r.Error))...)
	default:
		o.logger.Debug("Cycle completed", fields...)
	}
}

func (o *LogObserver) OnTrade(r model.TradeRecord) {
	o.logger.Info("Trade recorded", zap.Stringer("Trade", r))
}
