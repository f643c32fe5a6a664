package main

import (
	"context"
	"fmt"
	"os"

	"github.com/andyhuynh/bart2sqlite"
	"github.com/spf13/pflag"
	"github.com/tidwall/geojson"
)

func usageAndDie() {
	fmt.Println("Example usage:\n" +
		"    bart2sqlite --init-dims\n" +
		"    bart2sqlite --load --start-year 2015 --end-year 2018\n" +
		"    bart2sqlite --refresh\n" +
		"    bart2sqlite --stations-geojson --out stations.json")
	os.Exit(1)
}

func main() {
	initDims := pflag.Bool("init-dims", false, "Build the calendar and station dimensions")
	loadMode := pflag.BoolP("load", "l", false, "Load a range of yearly extracts and refresh aggregates")
	refreshMode := pflag.Bool("refresh", false, "Refresh the aggregates only")
	geojsonMode := pflag.Bool("stations-geojson", false, "Write the stations as a GeoJSON FeatureCollection")
	primaryOptions := []*bool{initDims, loadMode, refreshMode, geojsonMode}

	startYear := pflag.IntP("start-year", "s", 0, "Year to start loading at, inclusive")
	endYear := pflag.IntP("end-year", "e", 0, "Year to stop loading at, inclusive")
	skipFailed := pflag.Bool("skip-failed-stations", false, "Skip stations whose metadata cannot be fetched instead of aborting")
	output := pflag.StringP("out", "o", "", "Path to write output to (defaults to stdout)")

	pflag.Parse()

	primaryCount := 0
	for _, opt := range primaryOptions {
		if *opt {
			primaryCount++
		}
	}
	if primaryCount != 1 {
		usageAndDie()
	}

	cfg, err := bart2sqlite.LoadConfig()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	db, err := cfg.OpenDB()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	switch {
	case *initDims:
		err = bart2sqlite.BuildCalendar(db)
		if err == nil {
			src := bart2sqlite.NewStationSource(cfg)
			opts := &bart2sqlite.StationOpts{SkipFailed: *skipFailed}
			var skipped []string
			skipped, err = bart2sqlite.BuildStations(ctx, db, src, opts)
			for _, station := range skipped {
				fmt.Printf("Skipped station %s\n", station)
			}
		}
	case *loadMode:
		if *startYear == 0 || *endYear == 0 {
			usageAndDie()
		}
		var years []int
		years, err = bart2sqlite.Years(*startYear, *endYear)
		if err == nil {
			err = bart2sqlite.NewLoader(db, cfg.RidershipBaseURL).Run(ctx, years)
		}
	case *refreshMode:
		err = bart2sqlite.RefreshAggregates(db)
	case *geojsonMode:
		var obj geojson.Object
		obj, err = bart2sqlite.StationsGeoJSON(db)
		if err == nil {
			out := os.Stdout
			if *output != "" {
				out, err = os.Create(*output)
			}
			if err == nil {
				_, err = fmt.Fprintln(out, obj.JSON())
			}
		}
	}

	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	} else {
		fmt.Println("All done")
	}
}
