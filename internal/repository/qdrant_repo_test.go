package repository

import (
	"testing"
	"time"

	"github.com/tejasbhor/Civiclens/internal/geo"
)

func TestReportPointIDDeterministic(t *testing.T) {
	if ReportPointID(42) != ReportPointID(42) {
		t.Error("ReportPointID is not deterministic")
	}
	if ReportPointID(42) == ReportPointID(43) {
		t.Error("ReportPointID collides for different reports")
	}
}

func TestBuildNearbyFilter(t *testing.T) {
	exclude := uint(9)
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := buildNearbyFilter(NearbyQuery{
		Center:       geo.Point{Lat: 12.5, Lon: 77.25},
		RadiusMeters: 150,
		Since:        since,
		Category:     "water",
		ExcludeID:    &exclude,
	})

	if len(f.GetMust()) != 3 {
		t.Fatalf("Must conditions = %d, want 3 (geo, time, category)", len(f.GetMust()))
	}
	geoCond := f.GetMust()[0].GetField()
	if geoCond.GetKey() != payloadLocation || geoCond.GetGeoRadius().GetRadius() != 150 {
		t.Errorf("geo condition = %v", geoCond)
	}
	if c := geoCond.GetGeoRadius().GetCenter(); c.GetLat() != 12.5 || c.GetLon() != 77.25 {
		t.Errorf("geo center = %v", c)
	}
	timeCond := f.GetMust()[1].GetField()
	if timeCond.GetRange().GetGte() != float64(since.Unix()) {
		t.Errorf("created_at gte = %v, want %v", timeCond.GetRange().GetGte(), since.Unix())
	}

	// three ineligible statuses plus the excluded report
	if len(f.GetMustNot()) != 4 {
		t.Fatalf("MustNot conditions = %d, want 4", len(f.GetMustNot()))
	}
	last := f.GetMustNot()[3].GetField()
	if last.GetKey() != payloadReportID || last.GetMatch().GetInteger() != 9 {
		t.Errorf("exclusion condition = %v", last)
	}
}

func TestReportPayload(t *testing.T) {
	created := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	p := reportPayload(ReportPoint{ReportID: 3, Status: "received", Category: "roads", Latitude: 1.5, Longitude: 2.5, CreatedAt: created})

	if p[payloadReportID].GetIntegerValue() != 3 {
		t.Errorf("report_id = %v", p[payloadReportID])
	}
	if p[payloadCreatedAt].GetIntegerValue() != created.Unix() {
		t.Errorf("created_at = %v", p[payloadCreatedAt])
	}
	loc := p[payloadLocation].GetStructValue().GetFields()
	if loc["lat"].GetDoubleValue() != 1.5 || loc["lon"].GetDoubleValue() != 2.5 {
		t.Errorf("location = %v", loc)
	}
}
