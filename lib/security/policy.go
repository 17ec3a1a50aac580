package security

import (
	"strings"

	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/samber/oops"
)

// Strategy selects which command classes must be sent encrypted
type Strategy int

const (
	// StrategyEssential secures only the fixed lock and user code classes
	StrategyEssential Strategy = iota
	// StrategySupported secures every class the peer reported as secured
	StrategySupported
	// StrategyCustom secures an operator supplied list
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyEssential:
		return "essential"
	case StrategySupported:
		return "supported"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseStrategy reads a strategy name, ignoring case
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "essential":
		return StrategyEssential, nil
	case "supported":
		return StrategySupported, nil
	case "custom":
		return StrategyCustom, nil
	}
	return StrategyEssential, oops.Errorf("unknown security strategy %q", s)
}

var essentialClasses = commandclass.NewSet(
	commandclass.DoorLock,
	commandclass.UserCode,
	commandclass.DoorLockLogging,
)

// EssentialClasses returns a copy of the classes StrategyEssential secures
func EssentialClasses() commandclass.Set {
	return essentialClasses.Clone()
}

// RequiresSecurity reports whether a command of class cc must be encrypted.
// peerSecured is the set the peer reported in its SupportedReport and custom
// the operator list; either may be nil.
func RequiresSecurity(cc commandclass.ID, strategy Strategy, peerSecured, custom commandclass.Set) bool {
	switch strategy {
	case StrategyEssential:
		return essentialClasses.Contain(cc)
	case StrategySupported:
		return peerSecured.Contain(cc)
	case StrategyCustom:
		return custom.Contain(cc)
	default:
		return false
	}
}

// Policy is the configured strategy together with its custom list
type Policy struct {
	Strategy Strategy
	Custom   commandclass.Set
}

// Requires applies RequiresSecurity with the policy's strategy and list
func (p Policy) Requires(cc commandclass.ID, peerSecured commandclass.Set) bool {
	return RequiresSecurity(cc, p.Strategy, peerSecured, p.Custom)
}
