package bart2sqlite

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/tidwall/geojson"
)

// StationsGeoJSON renders dim_station as a FeatureCollection of points, one
// feature per station, for the dashboard's map layer. Stations whose
// coordinates fail to parse are logged and left out rather than poisoning the
// collection.
func StationsGeoJSON(db *sqlite.Conn) (geojson.Object, error) {
	type stationFeature struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string     `json:"type"`
			Coordinates [2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]string `json:"properties"`
	}

	var features []stationFeature
	err := sqlitex.Exec(db,
		"SELECT abbreviation, name, latitude, longitude FROM dim_station ORDER BY abbreviation",
		func(stmt *sqlite.Stmt) error {
			abbr := stmt.GetText("abbreviation")

			lng, err := strconv.ParseFloat(stmt.GetText("longitude"), 64)
			if err != nil {
				slog.Error("Failed to parse longitude", "abbreviation", abbr)
				return nil
			}
			lat, err := strconv.ParseFloat(stmt.GetText("latitude"), 64)
			if err != nil {
				slog.Error("Failed to parse latitude", "abbreviation", abbr)
				return nil
			}

			var f stationFeature
			f.Type = "Feature"
			f.Geometry.Type = "Point"
			f.Geometry.Coordinates = [2]float64{lng, lat}
			f.Properties = map[string]string{
				"abbreviation": abbr,
				"name":         stmt.GetText("name"),
			}
			features = append(features, f)
			return nil
		})
	if err != nil {
		return nil, err
	}

	collection := struct {
		Type     string           `json:"type"`
		Features []stationFeature `json:"features"`
	}{Type: "FeatureCollection", Features: features}
	if collection.Features == nil {
		collection.Features = []stationFeature{}
	}

	raw, err := json.Marshal(collection)
	if err != nil {
		return nil, err
	}
	obj, err := geojson.Parse(string(raw), &geojson.ParseOptions{RequireValid: true})
	if err != nil {
		return nil, fmt.Errorf("build station FeatureCollection: %w", err)
	}
	return obj, nil
}
