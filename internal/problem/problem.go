// Package problem turns operation parameters and tensor descriptors into
// normalised, hashable problem descriptions. Every constructor validates its
// input and reports configuration errors before any solver is consulted.
package problem

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samcharles93/kforge/pkg/tensor"
)

// Kind identifies the operation a problem belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	ConvForward
	ConvBackwardData
	ConvBackwardWeights
	RNNForwardTraining
	RNNForwardInference
	RNNBackwardData
	RNNBackwardWeights
	RepeatForward
	RepeatBackward
	LogsumexpForward
	LogsumexpBackward
)

var kindNames = map[Kind]string{
	ConvForward:         "conv-fwd",
	ConvBackwardData:    "conv-bwd",
	ConvBackwardWeights: "conv-wrw",
	RNNForwardTraining:  "rnn-fwd-train",
	RNNForwardInference: "rnn-fwd-infer",
	RNNBackwardData:     "rnn-bwd-data",
	RNNBackwardWeights:  "rnn-bwd-weights",
	RepeatForward:       "repeat-fwd",
	RepeatBackward:      "repeat-bwd",
	LogsumexpForward:    "logsumexp-fwd",
	LogsumexpBackward:   "logsumexp-bwd",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := ConvForward; k <= LogsumexpBackward; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown operation kind %q", s)
}

// IsConv reports whether k is one of the convolution directions.
func (k Kind) IsConv() bool {
	return k == ConvForward || k == ConvBackwardData || k == ConvBackwardWeights
}

// IsRNN reports whether k is one of the recurrent passes.
func (k Kind) IsRNN() bool {
	return k >= RNNForwardTraining && k <= RNNBackwardWeights
}

// Key is the canonical identity of a problem, used to index cached
// performance results. Equal logical problems always produce equal keys.
type Key string

// Problem is implemented by every operation descriptor.
type Problem interface {
	Kind() Kind
	DataType() tensor.DataType
	Key() Key
}

// keyBuilder renders the '|' separated canonical form shared by all keys.
type keyBuilder struct {
	b strings.Builder
}

func newKey(k Kind, dt tensor.DataType) *keyBuilder {
	kb := &keyBuilder{}
	kb.b.WriteString(k.String())
	kb.field(dt.String())
	return kb
}

func (kb *keyBuilder) field(s string) *keyBuilder {
	kb.b.WriteByte('|')
	kb.b.WriteString(s)
	return kb
}

func (kb *keyBuilder) ints(name string, vals []int) *keyBuilder {
	kb.b.WriteByte('|')
	kb.b.WriteString(name)
	kb.b.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			kb.b.WriteByte(',')
		}
		kb.b.WriteString(strconv.Itoa(v))
	}
	kb.b.WriteByte(']')
	return kb
}

func (kb *keyBuilder) key() Key { return Key(kb.b.String()) }
