package optimization

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Record keys shared by allocations and frontier samples.
const (
	KeyStatus         = "status"
	KeyReason         = "reason"
	KeyExpectedReturn = "expected_return"
	KeyVolatility     = "volatility"
	KeyESGScore       = "esg_score"
	KeySharpeRatio    = "sharpe_ratio"
	WeightKeyPrefix   = "weight_"
)

// Record is a flat field → value map for transport to any consumer.
type Record map[string]any

func (m Metrics) fill(r Record) {
	r[KeyExpectedReturn] = m.ExpectedReturn
	r[KeyVolatility] = m.Volatility
	r[KeyESGScore] = m.ESGScore
	r[KeySharpeRatio] = m.SharpeRatio
}

// Record flattens the allocation. Non-optimal allocations carry no weight keys.
func (a Allocation) Record() Record {
	r := Record{KeyStatus: string(a.Status)}
	if a.Reason != "" {
		r[KeyReason] = a.Reason
	}
	a.Metrics.fill(r)
	for id, w := range a.Weights {
		r[WeightKeyPrefix+id] = w
	}
	return r
}

// Record flattens the sample; ids label its weights in universe order.
func (s FrontierSample) Record(ids []string) (Record, error) {
	if len(ids) != len(s.Weights) {
		return nil, fmt.Errorf("got %d ids for %d weights", len(ids), len(s.Weights))
	}
	r := Record{}
	s.Metrics.fill(r)
	for i, id := range ids {
		r[WeightKeyPrefix+id] = s.Weights[i]
	}
	return r, nil
}

// FrontierRecords flattens a whole frontier.
func FrontierRecords(samples []FrontierSample, ids []string) ([]Record, error) {
	out := make([]Record, len(samples))
	for i, s := range samples {
		r, err := s.Record(ids)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// EncodeRecords serializes records with msgpack.
func EncodeRecords(records []Record) ([]byte, error) {
	data, err := msgpack.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	return data, nil
}

// DecodeRecords reverses EncodeRecords.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}
