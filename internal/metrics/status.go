package metrics

import (
	"sort"

	"github.com/torosent/lopnur/internal/model"
)

// FailureBucket is the number of failed outcomes for a provider and request
// type pair.
type FailureBucket struct {
	Provider    string `json:"provider"`
	RequestType string `json:"requestType"`
	Count       int    `json:"count"`
}

// FailureBuckets groups the failed outcomes by provider and request type.
// Rows are sorted by descending count, then by provider and type for stability.
func FailureBuckets(outcomes []model.Outcome) []FailureBucket {
	counts := map[string]map[string]int{}
	for _, o := range outcomes {
		if o.Success {
			continue
		}
		byType, ok := counts[o.Provider]
		if !ok {
			byType = map[string]int{}
			counts[o.Provider] = byType
		}
		byType[o.RequestType]++
	}
	return flattenFailureBuckets(counts)
}

func flattenFailureBuckets(buckets map[string]map[string]int) []FailureBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]FailureBucket, 0)
	for provider, types := range buckets {
		for requestType, count := range types {
			rows = append(rows, FailureBucket{Provider: provider, RequestType: requestType, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Provider == rows[j].Provider {
				return rows[i].RequestType < rows[j].RequestType
			}
			return rows[i].Provider < rows[j].Provider
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
