package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesReceived.Add(3)
	m.NewPeople.Add(2)
	m.UpdateCounts(1, 2, 3, 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, needle := range []string{
		"peoplecounter_frames_received_total 3",
		"peoplecounter_new_people_total 2",
		"peoplecounter_people_this_hour 2",
		"peoplecounter_total_unique_people 4",
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("metrics output missing %q:\n%s", needle, out)
		}
	}
}
