package bart2sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// bartClient is the live StationSource over the BART site and API.
type bartClient struct {
	client           *http.Client
	apiBase          string
	stationURLBase   string
	abbreviationsURL string
	token            string
}

// NewStationSource builds a StationSource talking to the endpoints configured
// in cfg.
func NewStationSource(cfg *Config) StationSource {
	return &bartClient{
		client:           &http.Client{Timeout: 30 * time.Second},
		apiBase:          cfg.APIBase,
		stationURLBase:   cfg.StationURLBase,
		abbreviationsURL: cfg.AbbreviationsURL,
		token:            cfg.APIToken,
	}
}

func (c *bartClient) StationURL(lowerAbbr string) string {
	return c.stationURLBase + "/" + lowerAbbr
}

func (c *bartClient) Abbreviations(ctx context.Context) ([]StationAbbreviation, error) {
	body, err := c.get(ctx, c.abbreviationsURL)
	if err != nil {
		return nil, err
	}
	return parseAbbreviationTable(body)
}

func (c *bartClient) StationPage(ctx context.Context, lowerAbbr string) ([]byte, error) {
	return c.get(ctx, c.StationURL(lowerAbbr))
}

func (c *bartClient) StationInfo(ctx context.Context, lowerAbbr string) (*StationRecord, error) {
	u := fmt.Sprintf("%s/stn.aspx?cmd=stninfo&key=%s&json=y&orig=%s",
		c.apiBase, url.QueryEscape(c.token), url.QueryEscape(lowerAbbr))
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	return parseStationInfo(body)
}

func (c *bartClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", u, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// The stninfo payload wraps the record in {"root": {"stations": {"station":
// ...}}}, and several fields are either a bare string or a one-key envelope
// ({"#cdata-section": ...} for free text, {"route": [...]} and
// {"platform": [...]} for the directional descriptors). Absent optional
// fields decode to "".

type stationInfoEnvelope struct {
	Root struct {
		Stations struct {
			Station stationInfoRecord `json:"station"`
		} `json:"stations"`
	} `json:"root"`
}

type stationInfoRecord struct {
	Name           string      `json:"name"`
	Latitude       string      `json:"gtfs_latitude"`
	Longitude      string      `json:"gtfs_longitude"`
	Address        string      `json:"address"`
	City           string      `json:"city"`
	County         string      `json:"county"`
	State          string      `json:"state"`
	Zipcode        string      `json:"zipcode"`
	Attraction     cdataString `json:"attraction"`
	CrossStreet    cdataString `json:"cross_street"`
	Food           cdataString `json:"food"`
	Intro          cdataString `json:"intro"`
	Link           cdataString `json:"link"`
	NorthPlatforms wrappedList `json:"north_platforms"`
	NorthRoutes    wrappedList `json:"north_routes"`
	PlatformInfo   string      `json:"platform_info"`
	Shopping       cdataString `json:"shopping"`
	SouthPlatforms wrappedList `json:"south_platforms"`
	SouthRoutes    wrappedList `json:"south_routes"`
}

func parseStationInfo(body []byte) (*StationRecord, error) {
	var envelope stationInfoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse stninfo response: %w", err)
	}
	r := envelope.Root.Stations.Station
	if r.Name == "" && r.Address == "" {
		return nil, errors.New("stninfo response has no station record")
	}
	return &StationRecord{
		Name:           r.Name,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Address:        r.Address,
		City:           r.City,
		County:         r.County,
		State:          r.State,
		Zipcode:        r.Zipcode,
		Attraction:     string(r.Attraction),
		CrossStreet:    string(r.CrossStreet),
		Food:           string(r.Food),
		Intro:          string(r.Intro),
		Link:           string(r.Link),
		NorthPlatforms: r.NorthPlatforms.join(),
		NorthRoutes:    r.NorthRoutes.join(),
		PlatformInfo:   r.PlatformInfo,
		Shopping:       string(r.Shopping),
		SouthPlatforms: r.SouthPlatforms.join(),
		SouthRoutes:    r.SouthRoutes.join(),
	}, nil
}

// cdataString decodes a bare string, a {"#cdata-section": ...} envelope, or
// null/absent (becoming "").
type cdataString string

func (s *cdataString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*s = cdataString(plain)
		return nil
	}
	var envelope struct {
		CData string `json:"#cdata-section"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("cdata field: %w", err)
	}
	*s = cdataString(envelope.CData)
	return nil
}

// wrappedList decodes the directional route/platform descriptors: a bare
// string, a list of strings, or a one-key envelope around either. End-of-line
// stations have no entry at all.
type wrappedList []string

func (l *wrappedList) UnmarshalJSON(data []byte) error {
	values, err := unwrapList(data)
	if err != nil {
		return err
	}
	*l = values
	return nil
}

func (l wrappedList) join() string {
	return strings.Join(l, ", ")
}

func unwrapList(data []byte) ([]string, error) {
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		if plain == "" {
			return nil, nil
		}
		return []string{plain}, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("list field: %w", err)
	}
	for _, inner := range envelope {
		return unwrapList(inner)
	}
	return nil, nil
}

// parseAbbreviationTable extracts (lowercase abbreviation, name) pairs from
// the two-column HTML table of the abbreviation overview page.
func parseAbbreviationTable(page []byte) ([]StationAbbreviation, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse abbreviation page: %w", err)
	}

	var abbrs []StationAbbreviation
	for _, row := range findAll(doc, "tr") {
		cells := findAll(row, "td")
		if len(cells) != 2 {
			continue
		}
		lower := strings.TrimSpace(nodeText(cells[0]))
		name := strings.TrimSpace(nodeText(cells[1]))
		if lower == "" || name == "" {
			continue
		}
		abbrs = append(abbrs, StationAbbreviation{Lower: strings.ToLower(lower), Name: name})
	}
	if len(abbrs) == 0 {
		return nil, errors.New("abbreviation page has no station rows")
	}
	return abbrs, nil
}

// stationMapURL returns the href of the first anchor whose visible text
// contains "Station Map (PDF)". A page without one is an error; callers
// decide whether that fails the build or skips the station.
func stationMapURL(page []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse station page: %w", err)
	}
	for _, anchor := range findAll(doc, "a") {
		if !strings.Contains(nodeText(anchor), "Station Map (PDF)") {
			continue
		}
		for _, attr := range anchor.Attr {
			if attr.Key == "href" {
				return attr.Val, nil
			}
		}
	}
	return "", errors.New("no Station Map (PDF) link")
}

func findAll(n *html.Node, element string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == element {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
