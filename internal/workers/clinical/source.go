// Package clinical implements the clinical_trials worker over the
// ClinicalTrials.gov v2 API or a fixture dataset.
package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

// Source finds trials for an intervention. Skipped counts records that were
// dropped because they were malformed.
type Source interface {
	SearchTrials(ctx context.Context, molecule string, limit int) (trials []domain.TrialRecord, skipped int, err error)
	// Describe names the source for the envelope.
	Describe(molecule string) (title, uri string)
}

// APIClient queries https://clinicaltrials.gov/api/v2/studies.
type APIClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewAPIClient(baseURL string, ratePerSec float64) *APIClient {
	if baseURL == "" {
		baseURL = "https://clinicaltrials.gov"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

func (c *APIClient) studiesURL(molecule string, limit int) string {
	q := url.Values{}
	q.Set("query.intr", molecule)
	q.Set("pageSize", strconv.Itoa(limit))
	q.Set("format", "json")
	return c.baseURL + "/api/v2/studies?" + q.Encode()
}

func (c *APIClient) Describe(molecule string) (string, string) {
	return "ClinicalTrials.gov", c.studiesURL(molecule, 20)
}

type studiesResponse struct {
	Studies []json.RawMessage `json:"studies"`
}

type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"statusModule"`
		DesignModule struct {
			Phases []string `json:"phases"`
		} `json:"designModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Country string `json:"country"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
	HasResults bool `json:"hasResults"`
}

func (c *APIClient) SearchTrials(ctx context.Context, molecule string, limit int) ([]domain.TrialRecord, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.studiesURL(molecule, limit), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("clinicaltrials.gov request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("clinicaltrials.gov returned status %d", resp.StatusCode)
	}

	var page studiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, fmt.Errorf("decode studies: %w", err)
	}

	trials := make([]domain.TrialRecord, 0, len(page.Studies))
	skipped := 0
	for _, raw := range page.Studies {
		rec, ok := parseStudy(raw)
		if !ok {
			skipped++
			continue
		}
		trials = append(trials, rec)
	}
	return trials, skipped, nil
}

// parseStudy maps one registry study; studies without an NCT id or with an
// unexpected shape are rejected.
func parseStudy(raw json.RawMessage) (domain.TrialRecord, bool) {
	var s study
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.TrialRecord{}, false
	}
	p := s.ProtocolSection
	if p.IdentificationModule.NCTID == "" {
		return domain.TrialRecord{}, false
	}

	rec := domain.TrialRecord{
		NCTID:     p.IdentificationModule.NCTID,
		Phase:     "NA",
		Status:    p.StatusModule.OverallStatus,
		Condition: strings.Join(p.ConditionsModule.Conditions, "; "),
	}
	if len(p.DesignModule.Phases) > 0 {
		rec.Phase = strings.Join(p.DesignModule.Phases, "/")
	}
	if rec.Status == "" {
		rec.Status = "UNKNOWN"
	}
	if locs := p.ContactsLocationsModule.Locations; len(locs) > 0 && locs[0].Country != "" {
		country := locs[0].Country
		rec.Region = &country
	}
	if s.HasResults {
		summary := "Results posted"
		rec.ResultsSummary = &summary
	}
	return rec, true
}

// FixtureSource serves trials from a JSON file keyed by lower-cased molecule:
//
//	{"metformin": [{"nct_id": "NCT...", "phase": "PHASE3", ...}]}
type FixtureSource struct {
	path   string
	trials map[string][]json.RawMessage
}

func LoadFixture(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clinical fixture: %w", err)
	}
	var trials map[string][]json.RawMessage
	if err := json.Unmarshal(data, &trials); err != nil {
		return nil, fmt.Errorf("parse clinical fixture %s: %w", path, err)
	}
	return &FixtureSource{path: path, trials: trials}, nil
}

func (f *FixtureSource) Describe(string) (string, string) {
	return "Clinical fixture dataset", "file://" + f.path
}

func (f *FixtureSource) SearchTrials(ctx context.Context, molecule string, limit int) ([]domain.TrialRecord, int, error) {
	records := f.trials[domain.SubjectKey(molecule)]
	trials := make([]domain.TrialRecord, 0, len(records))
	skipped := 0
	for _, raw := range records {
		if limit > 0 && len(trials) == limit {
			break
		}
		var rec domain.TrialRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.NCTID == "" {
			skipped++
			continue
		}
		trials = append(trials, rec)
	}
	return trials, skipped, nil
}
