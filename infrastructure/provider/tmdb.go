package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/internal/config"
)

// Field caps applied when flattening TMDB responses.
const (
	tmdbMaxActors    = 10
	tmdbMaxDirectors = 5
	tmdbMaxAKA       = 10
)

// TMDBClient fetches movie and tv metadata from the TMDB v3 API. All
// requests pass through a shared token bucket so enrichment passes stay
// under the API's rate limits.
type TMDBClient struct {
	baseURL  string
	apiKey   string
	language string
	client   *http.Client
	limiter  *rate.Limiter
}

var _ enrichment.Provider = (*TMDBClient)(nil)

// NewTMDBClient creates a TMDB client from configuration.
func NewTMDBClient(cfg config.TMDBConfig) *TMDBClient {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = config.DefaultTMDBRatePerSec
	}
	return &TMDBClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type tmdbDetails struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Name          string `json:"name"`
	OriginalTitle string `json:"original_title"`
	OriginalName  string `json:"original_name"`
	Overview      string `json:"overview"`
	ReleaseDate   string `json:"release_date"`
	FirstAirDate  string `json:"first_air_date"`
	PosterPath    string `json:"poster_path"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Credits struct {
		Cast []struct {
			Name string `json:"name"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
	Keywords struct {
		Keywords []struct {
			Name string `json:"name"`
		} `json:"keywords"`
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	} `json:"keywords"`
	AlternativeTitles struct {
		Titles []struct {
			Title string `json:"title"`
		} `json:"titles"`
		Results []struct {
			Title string `json:"title"`
		} `json:"results"`
	} `json:"alternative_titles"`
}

// Lookup fetches details for a candidate. Candidates from the "tmdb"
// content source resolve directly by id; others are skipped with a nil
// row since there is no reliable title match without a TMDB id.
func (t *TMDBClient) Lookup(ctx context.Context, c enrichment.Candidate) (*enrichment.Row, error) {
	if c.ContentSource != "tmdb" {
		return nil, nil
	}
	kind := "movie"
	if c.ContentType == "tv_show" || c.ContentType == "tv" {
		kind = "tv"
	}
	details, err := t.fetchDetails(ctx, kind, c.ContentID)
	if err != nil {
		return nil, err
	}
	return t.flatten(c, details), nil
}

func (t *TMDBClient) fetchDetails(ctx context.Context, kind, id string) (*tmdbDetails, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("api_key", t.apiKey)
	q.Set("language", t.language)
	q.Set("append_to_response", "credits,keywords,alternative_titles")
	endpoint := fmt.Sprintf("%s/%s/%s?%s", t.baseURL, kind, url.PathEscape(id), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tmdb request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tmdb returned %d for %s/%s", resp.StatusCode, kind, id)
	}
	var details tmdbDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decode tmdb response: %w", err)
	}
	return &details, nil
}

func (t *TMDBClient) flatten(c enrichment.Candidate, d *tmdbDetails) *enrichment.Row {
	if d == nil {
		return nil
	}

	title := d.Title
	original := d.OriginalTitle
	date := d.ReleaseDate
	if title == "" {
		title = d.Name
		original = d.OriginalName
		date = d.FirstAirDate
	}

	var genres []string
	for _, g := range d.Genres {
		genres = append(genres, g.Name)
	}

	var actors []string
	for _, m := range d.Credits.Cast {
		if len(actors) == tmdbMaxActors {
			break
		}
		actors = append(actors, m.Name)
	}
	var directors []string
	for _, m := range d.Credits.Crew {
		if m.Job != "Director" {
			continue
		}
		if len(directors) == tmdbMaxDirectors {
			break
		}
		directors = append(directors, m.Name)
	}

	keywords := d.Keywords.Keywords
	if len(keywords) == 0 {
		keywords = d.Keywords.Results
	}
	var kw []string
	for _, k := range keywords {
		kw = append(kw, k.Name)
	}

	titles := d.AlternativeTitles.Titles
	if len(titles) == 0 {
		titles = d.AlternativeTitles.Results
	}
	aka := make([]string, 0, tmdbMaxAKA+2)
	if title != "" {
		aka = append(aka, title)
	}
	if original != "" && original != title {
		aka = append(aka, original)
	}
	for _, alt := range titles {
		if len(aka) == tmdbMaxAKA {
			break
		}
		if alt.Title != "" && alt.Title != title {
			aka = append(aka, alt.Title)
		}
	}

	year := 0
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			year = y
		}
	}

	return &enrichment.Row{
		ContentType:   c.ContentType,
		ContentSource: c.ContentSource,
		ContentID:     c.ContentID,
		Title:         title,
		AKA:           strings.Join(aka, ", "),
		Keywords:      strings.Join(kw, ", "),
		Plot:          d.Overview,
		Genre:         strings.Join(genres, ", "),
		Directors:     strings.Join(directors, ", "),
		Actors:        strings.Join(actors, ", "),
		ReleaseYear:   year,
		PosterPath:    d.PosterPath,
		Status:        enrichment.StatusOK,
	}
}
