package telemetry

import (
	"encoding/json"
	"testing"
)

func TestEncode_BuildsNamespacedSubjectAndPayload(t *testing.T) {
	subject, data, err := encode("pose", "tracker-1", Sample{Time: 1.5, Position: [3]float64{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "pose.tracker-1" {
		t.Fatalf("expected subject 'pose.tracker-1', got %q", subject)
	}

	var decoded Sample
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.Device != "tracker-1" || decoded.Position != [3]float64{1, 2, 3} {
		t.Fatalf("unexpected decoded sample: %+v", decoded)
	}
}
