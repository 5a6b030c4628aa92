package pixie

import (
	"encoding/json"
	"fmt"
)

type Rule int

const (
	Normal Rule = iota
	Compton
	GammaGamma
)

var Rules = []Rule{Normal, Compton, GammaGamma}

// Channels that get spectra. Channel 0 only takes part in the vetoes and
// coincidences.
var OutputChannels = []int{1, 2}

var ruleGroupNames = []string{"normal", "compton", "ggcoinc"}
var ruleCodes = []string{"norm", "compt", "gg"}

func (r Rule) String() string {
	if r < Normal || r > GammaGamma {
		return "unknown"
	}
	return ruleGroupNames[r]
}

// Code is the prefix of the datasets of the rule, e.g. "compt" in compt1_spec.
func (r Rule) Code() string {
	if r < Normal || r > GammaGamma {
		return "unknown"
	}
	return ruleCodes[r]
}

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	rule, err := ParseRule(s)
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// ParseRule accepts either the group name or the dataset code of a rule.
func ParseRule(s string) (Rule, error) {
	for i := range ruleGroupNames {
		if s == ruleGroupNames[i] || s == ruleCodes[i] {
			return Rule(i), nil
		}
	}
	return Normal, fmt.Errorf("invalid rule: %s", s)
}

type SpectrumKey struct {
	Rule    Rule
	Channel int
}

func (k SpectrumKey) String() string {
	return fmt.Sprintf("%s%d", k.Rule.Code(), k.Channel)
}

// SpectrumKeys lists every (rule, channel) pair in store order.
func SpectrumKeys() []SpectrumKey {
	keys := make([]SpectrumKey, 0, len(Rules)*len(OutputChannels))
	for _, rule := range Rules {
		for _, channel := range OutputChannels {
			keys = append(keys, SpectrumKey{Rule: rule, Channel: channel})
		}
	}
	return keys
}

type ClassifiedEvent struct {
	Rule      Rule
	Channel   int
	Energy    uint16
	Timestamp float64
}

func (c ClassifiedEvent) Key() SpectrumKey {
	return SpectrumKey{Rule: c.Rule, Channel: c.Channel}
}

type Classifier struct {
	window float64
}

func NewClassifier(ctx RunContext) *Classifier {
	return &Classifier{window: ctx.ShortWindow}
}

// Classify appends to out the classified events produced by one decoded
// event. The rules are independent: one event may land in several outputs.
func (c *Classifier) Classify(event GammaEvent, out []ClassifiedEvent) []ClassifiedEvent {
	ref := event.Channels[ReferenceChannel]
	for _, channel := range OutputChannels {
		other := otherChannel(channel)
		target := event.Channels[channel]
		companion := event.Channels[other]
		if !target.Valid() {
			continue
		}

		emit := func(rule Rule) {
			out = append(out, ClassifiedEvent{
				Rule:      rule,
				Channel:   channel,
				Energy:    target.Energy,
				Timestamp: event.Timestamp,
			})
		}

		emit(Normal)

		if !ref.Valid() && !companion.Valid() {
			emit(Compton)
		}

		dTargetRef := event.Delta(channel, ReferenceChannel)
		dTargetOther := event.Delta(channel, other)
		if gammaGammaGate(target, companion, ref, dTargetRef, dTargetOther, c.window) {
			emit(GammaGamma)
		}
	}
	return out
}

func otherChannel(channel int) int {
	return 3 - channel
}

// gammaGammaGate decides the coincidence for one target channel. The
// branches look at the hit pattern (Asserted), not at the energy: a channel
// that went over range still triggered and still counts for timing. NaN
// deltas never pass a comparison.
func gammaGammaGate(target, other, ref ChannelHit, dTargetRef, dTargetOther, window float64) bool {
	if !target.Asserted() {
		return false
	}
	switch {
	case !ref.Asserted() && other.Asserted():
		return dTargetOther < window
	case ref.Asserted() && !other.Asserted():
		return dTargetRef < window
	case ref.Asserted() && other.Asserted():
		return dTargetRef < window || dTargetOther < window
	}
	return false
}

// ClassifyAll splits a decoded run into one sub-stream per (rule, channel),
// each in decode order.
func ClassifyAll(events []GammaEvent, ctx RunContext) map[SpectrumKey][]ClassifiedEvent {
	classifier := NewClassifier(ctx)
	streams := make(map[SpectrumKey][]ClassifiedEvent)
	for _, key := range SpectrumKeys() {
		streams[key] = make([]ClassifiedEvent, 0)
	}

	scratch := make([]ClassifiedEvent, 0, 6)
	for _, event := range events {
		scratch = classifier.Classify(event, scratch[:0])
		for _, classified := range scratch {
			key := classified.Key()
			streams[key] = append(streams[key], classified)
		}
	}

	if ctx.Verbosity > 0 {
		for _, key := range SpectrumKeys() {
			message := fmt.Sprintf("%s: %d events", key, len(streams[key]))
			logger.Info(message, "classifier")
		}
	}
	return streams
}
