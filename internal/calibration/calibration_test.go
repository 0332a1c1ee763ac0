package calibration

import "testing"

func TestTable_BaseStation_UnknownLighthouseErrors(t *testing.T) {
	tbl := &Table{BaseStations: map[int]BaseStation{0: {PositionSet: true}}}
	if _, err := tbl.BaseStation(1); err == nil {
		t.Fatalf("expected error for unknown lighthouse")
	}
	bs, err := tbl.BaseStation(0)
	if err != nil || !bs.PositionSet {
		t.Fatalf("expected known lighthouse 0 to be found and positioned")
	}
}

func TestTable_SensorLocation_RangeChecked(t *testing.T) {
	tbl := &Table{SensorLocations: [][3]float64{{1, 2, 3}}}
	if _, err := tbl.SensorLocation(1); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	loc, err := tbl.SensorLocation(0)
	if err != nil || loc != [3]float64{1, 2, 3} {
		t.Fatalf("expected sensor 0 location, got %v err %v", loc, err)
	}
}
