package webhook

// webhook action types
const (
	TradeUpdated Action = iota
	TradeClosed
	TradeFailed
	DisputeOpened
	AllActions
)

var (
	actionToString = map[Action]string{
		TradeUpdated:  "TRADE_UPDATED",
		TradeClosed:   "TRADE_CLOSED",
		TradeFailed:   "TRADE_FAILED",
		DisputeOpened: "DISPUTE_OPENED",
		AllActions:    "*",
	}
	stringToAction = map[string]Action{
		"TRADE_UPDATED":  TradeUpdated,
		"TRADE_CLOSED":   TradeClosed,
		"TRADE_FAILED":   TradeFailed,
		"DISPUTE_OPENED": DisputeOpened,
		"*":              AllActions,
	}
)

type Action int

func ActionFromString(actionStr string) (Action, bool) {
	action, ok := stringToAction[actionStr]
	return action, ok
}

func (a Action) String() string {
	actionStr, ok := actionToString[a]
	if !ok {
		actionStr = "UNKNOWN"
	}
	return actionStr
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	action, ok := ActionFromString(string(text))
	if !ok {
		return ErrUnknownAction
	}
	*a = action
	return nil
}
