package controller

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseReadingsQuery(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	cst := time.FixedZone("CST", -6*60*60)

	tests := []struct {
		name      string
		query     string
		loc       *time.Location
		wantHours float64
		wantFrom  time.Time
		wantTo    time.Time
		wantNaive bool
		wantZone  string
		wantLimit int
		wantErr   string
	}{
		{name: "empty", query: "", wantZone: "UTC"},
		{name: "hours", query: "hours=1.5", wantHours: 1.5, wantZone: "UTC"},
		{name: "from rfc3339", query: "from=2023-11-14T22:13:20Z", wantFrom: time.Unix(1700000000, 0), wantZone: "UTC"},
		{name: "to epoch ms", query: "to=1700000000000", wantTo: time.Unix(1700000000, 0), wantZone: "UTC"},
		{name: "naive from defaults to utc", query: "from=2023-11-14+22:13:20", wantFrom: time.Unix(1700000000, 0), wantNaive: true, wantZone: "UTC"},
		{name: "naive from in tz", query: "from=2023-11-14+16:13:20&tz=America/Chicago", wantFrom: time.Unix(1700000000, 0), wantNaive: true, wantZone: "America/Chicago"},
		{name: "naive from in default zone", query: "from=2023-11-14T16:13:20", loc: cst, wantFrom: time.Unix(1700000000, 0), wantNaive: true, wantZone: "CST"},
		{name: "tz overrides default", query: "tz=UTC", loc: chicago, wantZone: "UTC"},
		{name: "zoned from ignores tz", query: "from=2023-11-14T22:13:20Z&tz=America/Chicago", wantFrom: time.Unix(1700000000, 0), wantZone: "America/Chicago"},
		{name: "limit", query: "limit=50", wantLimit: 50, wantZone: "UTC"},
		{name: "unknown tz", query: "tz=Mars/Olympus_Mons", wantErr: "invalid 'tz'"},
		{name: "hours zero", query: "hours=0", wantErr: "'hours' must be > 0"},
		{name: "hours text", query: "hours=lots", wantErr: "invalid 'hours'"},
		{name: "hours inf", query: "hours=Inf", wantErr: "invalid 'hours'"},
		{name: "hours too large", query: "hours=1e300", wantErr: "'hours' must be <="},
		{name: "bad from", query: "from=tuesday", wantErr: "invalid 'from'"},
		{name: "from out of range", query: "from=1e30", wantErr: "invalid 'from'"},
		{name: "bad to", query: "to=tuesday", wantErr: "invalid 'to'"},
		{name: "to negative", query: "to=-5", wantErr: "invalid 'to'"},
		{name: "from after to", query: "from=1700000001&to=1700000000", wantErr: "'from' must be <= 'to'"},
		{name: "limit text", query: "limit=all", wantErr: "invalid 'limit'"},
		{name: "limit zero", query: "limit=0", wantErr: "'limit' must be > 0"},
		{name: "limit too big", query: "limit=10001", wantErr: "'limit' must be <= 10000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/readings?"+tt.query, nil)
			q, limit, err := parseReadingsQuery(req, tt.loc)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v; want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if q.Hours != tt.wantHours || !q.From.Equal(tt.wantFrom) || !q.To.Equal(tt.wantTo) || limit != tt.wantLimit {
				t.Errorf("got %+v limit %d", q, limit)
			}
			if q.FromNaive != tt.wantNaive {
				t.Errorf("FromNaive = %v; want %v", q.FromNaive, tt.wantNaive)
			}
			if q.Location.String() != tt.wantZone {
				t.Errorf("Location = %v; want %s", q.Location, tt.wantZone)
			}
		})
	}
}
