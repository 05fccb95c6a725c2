package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
)

// ConvertToJobSpec decodes a parsed job document into a JobSpec and applies
// defaults. The document should have been validated against the schema first;
// this adds the cross-field checks the schema cannot express.
func ConvertToJobSpec(data map[string]interface{}) (*model.JobSpec, error) {
	if data == nil {
		return nil, fmt.Errorf("job document is nil")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job document: %w", err)
	}

	var spec model.JobSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode job document: %w", err)
	}

	spec.Normalize()

	if spec.Cleaning.MinRideMinutes >= spec.Cleaning.MaxRideMinutes {
		return nil, fmt.Errorf("cleaning.minRideMinutes (%g) must be below cleaning.maxRideMinutes (%g)",
			spec.Cleaning.MinRideMinutes, spec.Cleaning.MaxRideMinutes)
	}
	if tz := spec.Cleaning.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("cleaning.timezone: %w", err)
		}
	}
	if d := spec.Concurrency.JobTimeout; d != "" {
		if _, err := time.ParseDuration(d); err != nil {
			return nil, fmt.Errorf("concurrency.jobTimeout: %w", err)
		}
	}

	return &spec, nil
}
