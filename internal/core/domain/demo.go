package domain

// YieldRecord is one observed yield for a region, crop and year.
type YieldRecord struct {
	RegionID int64
	CropID   int64
	Year     int
	Value    float64
}

// Demo catalog loaded by `migrate --seed` and store.seed_demo.

func DemoRegions() []Region {
	return []Region{
		{ID: 1, Name: "North Plain"},
		{ID: 2, Name: "River Delta"},
	}
}

func DemoCrops() []Crop {
	return []Crop{
		{ID: 1, Name: "Wheat"},
		{ID: 2, Name: "Rice"},
	}
}

func DemoModels() []ForecastModel {
	return []ForecastModel{
		{ID: 1, Name: "Compound growth", Code: "GROWTH"},
		{ID: 2, Name: "ARIMA", Code: "ARIMA", Parameters: map[string]any{"p": 1, "d": 1, "q": 1}},
	}
}

func DemoYields() []YieldRecord {
	return []YieldRecord{
		{1, 1, 2019, 100},
		{1, 1, 2020, 110},
		{1, 1, 2021, 121},
		{1, 2, 2021, 640},
		{2, 2, 2017, 702.5},
		{2, 2, 2018, 715},
		{2, 2, 2019, 698.2},
		{2, 2, 2020, 731.4},
		{2, 2, 2021, 744.9},
	}
}
