package ctlplane

import (
	"grimm.is/warden/internal/logging"
)

const defaultLogLimit = 200

// GetLogs returns buffered daemon log entries, oldest first.
func (h *Handler) GetLogs(args *GetLogsArgs, reply *GetLogsReply) (err error) {
	defer h.finish("GetLogs", h.clock.Now(), &err)

	limit := args.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	threshold := logging.LevelDebug
	if args.Level != "" {
		if threshold, err = logging.ParseLevel(args.Level); err != nil {
			return err
		}
	}

	reply.Entries = logging.RecentLogs().Tail(limit, func(e logging.Entry) bool {
		if args.Source != "" && e.Source != args.Source {
			return false
		}
		level, err := logging.ParseLevel(e.Level)
		return err == nil && level >= threshold
	})
	return nil
}
