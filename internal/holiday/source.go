package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"schoolbell/internal/ics"
	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
)

// Region identifies an OpenHolidays subdivision, written LANG-COUNTRY
// (e.g. "NL-BE": Dutch-speaking Belgium).
type Region struct {
	Code     string // full subdivision code, e.g. "NL-BE"
	Language string // ISO-639-1, e.g. "NL"
	Country  string // ISO 3166-1, e.g. "BE"
}

// ParseRegion splits a LANG-COUNTRY code.
func ParseRegion(code string) (Region, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	parts := strings.Split(code, "-")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Region{}, fmt.Errorf("holiday: region %q should look like LANG-COUNTRY", code)
	}
	return Region{Code: code, Language: parts[0], Country: parts[1]}, nil
}

// Source returns the holidays overlapping [from, to] for a region.
type Source interface {
	Holidays(ctx context.Context, region Region, from, to time.Time) ([]model.Holiday, error)
}

// DefaultBaseURL is the public OpenHolidays API.
const DefaultBaseURL = "https://openholidaysapi.org"

// OpenHolidays queries the PublicHolidays and SchoolHolidays endpoints of
// the OpenHolidays API.
type OpenHolidays struct {
	BaseURL string
	client  *http.Client
}

// NewOpenHolidays returns a client with the given request timeout.
func NewOpenHolidays(baseURL string, timeout time.Duration) *OpenHolidays {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenHolidays{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// apiHoliday is the subset of the OpenHolidays holiday record we use.
type apiHoliday struct {
	ID        string `json:"id"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Type      string `json:"type"`
	Name      []struct {
		Language string `json:"language"`
		Text     string `json:"text"`
	} `json:"name"`
}

func (o *OpenHolidays) Holidays(ctx context.Context, region Region, from, to time.Time) ([]model.Holiday, error) {
	loc := from.Location()
	public, err := o.get(ctx, "PublicHolidays", region, from, to, loc, model.HolidayPublic)
	if err != nil {
		return nil, err
	}
	school, err := o.get(ctx, "SchoolHolidays", region, from, to, loc, model.HolidaySchool)
	if err != nil {
		return nil, err
	}
	return append(public, school...), nil
}

// URL builds the request URL of an endpoint.
func (o *OpenHolidays) URL(endpoint string, region Region, from, to time.Time) string {
	q := url.Values{}
	q.Set("countryIsoCode", region.Country)
	q.Set("languageIsoCode", region.Language)
	q.Set("subdivisionCode", region.Code)
	q.Set("validFrom", from.Format(time.DateOnly))
	q.Set("validTo", to.Format(time.DateOnly))
	return o.BaseURL + "/" + endpoint + "?" + q.Encode()
}

func (o *OpenHolidays) get(ctx context.Context, endpoint string, region Region, from, to time.Time, loc *time.Location, kind model.HolidayKind) ([]model.Holiday, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL(endpoint, region, from, to), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openholidays %s: %s", endpoint, resp.Status)
	}

	var records []apiHoliday
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("openholidays %s: decode: %w", endpoint, err)
	}

	out := make([]model.Holiday, 0, len(records))
	for _, r := range records {
		start, err := time.ParseInLocation(time.DateOnly, r.StartDate, loc)
		if err != nil {
			return nil, fmt.Errorf("openholidays %s: startDate %q: %w", endpoint, r.StartDate, err)
		}
		end := start
		if r.EndDate != "" {
			if end, err = time.ParseInLocation(time.DateOnly, r.EndDate, loc); err != nil {
				return nil, fmt.Errorf("openholidays %s: endDate %q: %w", endpoint, r.EndDate, err)
			}
		}
		out = append(out, model.Holiday{
			SourceID: "openholidays",
			Name:     r.name(region.Language),
			Kind:     kind,
			Start:    start,
			End:      end,
		})
	}
	return out, nil
}

func (r apiHoliday) name(lang string) string {
	for _, n := range r.Name {
		if strings.EqualFold(n.Language, lang) {
			return n.Text
		}
	}
	if len(r.Name) > 0 {
		return r.Name[0].Text
	}
	return r.Type
}

// Calendar reads holidays from ICS subscriptions. Every event in a
// calendar marks the days it spans as holidays; the region is ignored.
type Calendar struct {
	sources []ics.Source
	fetcher *ics.Fetcher
	log     *appLog.Logger
}

// NewCalendar returns a Calendar source over the given feeds.
func NewCalendar(sources []ics.Source, fetcher *ics.Fetcher, logger *appLog.Logger) *Calendar {
	return &Calendar{sources: sources, fetcher: fetcher, log: logger}
}

func (c *Calendar) Holidays(ctx context.Context, _ Region, from, to time.Time) ([]model.Holiday, error) {
	results, errs := c.fetcher.FetchAll(ctx, c.sources)
	if len(results) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("holiday calendars: %w", errs[0])
	}

	var events []ics.ParsedEvent
	for _, res := range results {
		evs, err := ics.ParseICS(res.Source, res.Body, c.log)
		if err != nil {
			c.log.Error("holiday calendar parse failed", err, "id", res.Source.ID)
			continue
		}
		events = append(events, evs...)
	}

	return ics.ExpandHolidays(events, ics.ExpandConfig{
		Location:   from.Location(),
		RangeStart: from,
		RangeEnd:   to,
	}, c.log)
}
