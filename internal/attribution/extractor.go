// Package attribution derives the click identifier, raw sum, and extra
// parameters from an inbound parameter set using partner-defined
// key-priority lists, and applies the partner's sum remapping table.
package attribution

import (
	"errors"

	"github.com/foxzi/trackgate/internal/tenant"
)

// ErrMissingClickID means no configured click-id key carried a non-empty
// value. The event is not attributable and must not be forwarded.
var ErrMissingClickID = errors.New("missing clickid parameter")

// Event is the attribution result for one inbound request
type Event struct {
	ClickID string
	// Sum is the raw value of the first configured sum key present in the
	// input. Empty is valid: a click without a sum is still forwardable.
	Sum string
	// Extras are parameters not recognized as the partner id, a click-id
	// key, or a sum key, preserved verbatim.
	Extras map[string]string
}

// Extract resolves attribution for params (the inbound query with the
// partner-id key already removed). Key priority is configuration order,
// not input order: the first configured click-id key with a non-empty
// value wins, and the first configured sum key present wins even when its
// value is empty.
func Extract(cfg *tenant.Config, params map[string]string) (*Event, error) {
	ev := &Event{Extras: map[string]string{}}

	for _, key := range cfg.ClickIDKeys.Values {
		if v, ok := params[key]; ok && v != "" {
			ev.ClickID = v
			break
		}
	}
	if ev.ClickID == "" {
		return nil, ErrMissingClickID
	}

	for _, key := range cfg.SumKeys.Values {
		if v, ok := params[key]; ok {
			ev.Sum = v
			break
		}
	}

	known := map[string]bool{}
	for _, key := range cfg.ClickIDKeys.Values {
		known[key] = true
	}
	for _, key := range cfg.SumKeys.Values {
		known[key] = true
	}
	for key, value := range params {
		if !known[key] {
			ev.Extras[key] = value
		}
	}

	return ev, nil
}

// ApplySumMapping returns a copy of params with every sum-key occurrence
// rewritten to the mapped target value, plus the mapped value itself.
// Exact-string lookup only: an empty raw sum or a missing/empty mapping
// entry leaves the parameters untouched and returns an empty mapped value.
func ApplySumMapping(cfg *tenant.Config, params map[string]string, rawSum string) (map[string]string, string) {
	forwarded := make(map[string]string, len(params))
	for k, v := range params {
		forwarded[k] = v
	}

	mapped := cfg.SumMapping.Lookup(rawSum)
	if rawSum == "" || mapped == "" {
		return forwarded, mapped
	}

	for _, key := range cfg.SumKeys.Values {
		if _, ok := forwarded[key]; ok {
			forwarded[key] = mapped
		}
	}
	return forwarded, mapped
}
