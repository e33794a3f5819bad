package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/pipeline"
	"github.com/hiddenhill/papervid-backend/internal/types"
	"github.com/hiddenhill/papervid-backend/internal/utils"
)

// NotFoundError marks a paper id that PubMed Central does not serve. It is
// terminal; retrying cannot help.
type NotFoundError struct {
	PaperID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("paper %s is not available in PubMed Central", e.PaperID)
}

// PaperService fetches full text from the NCBI E-utilities efetch endpoint
// and writes the normalized paper.json artifact.
type PaperService interface {
	Fetch(ctx context.Context, w pipeline.Workdir) error
}

type paperService struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPaperService(log *logger.Logger) PaperService {
	return &paperService{
		log:        log.With("service", "PaperService"),
		baseURL:    utils.GetEnv("NCBI_EUTILS_BASE_URL", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils", log),
		apiKey:     utils.GetEnv("NCBI_API_KEY", "", nil),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *paperService) Fetch(ctx context.Context, w pipeline.Workdir) error {
	paperID := strings.TrimSpace(w.PaperID)
	id := strings.TrimPrefix(strings.ToUpper(paperID), "PMC")

	q := url.Values{}
	q.Set("db", "pmc")
	q.Set("id", id)
	q.Set("rettype", "xml")
	q.Set("retmode", "xml")
	if s.apiKey != "" {
		q.Set("api_key", s.apiKey)
	}
	endpoint := s.baseURL + "/efetch.fcgi?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("efetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
		return &NotFoundError{PaperID: paperID}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("efetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return fmt.Errorf("efetch read: %w", err)
	}

	article, err := parsePMCArticle(body)
	if err != nil {
		return fmt.Errorf("efetch parse: %w", err)
	}
	// PMC answers 200 with an error stanza for ids it does not hold.
	if article.Title == "" && article.Body == "" {
		return &NotFoundError{PaperID: paperID}
	}

	paper := &types.Paper{
		PaperID:   paperID,
		Title:     article.Title,
		Abstract:  article.Abstract,
		FullText:  article.Body,
		Authors:   article.Authors,
		Source:    "pmc",
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := types.SavePaper(paper, w.Paper()); err != nil {
		return fmt.Errorf("save paper: %w", err)
	}
	s.log.Info("Paper fetched", "paper_id", paperID, "title", paper.Title)
	return nil
}

type pmcArticle struct {
	Title    string
	Abstract string
	Body     string
	Authors  []string
}

// parsePMCArticle walks the JATS XML stream collecting the title, abstract,
// body text and author names. It deliberately flattens markup; downstream
// only needs plain text.
func parsePMCArticle(raw []byte) (*pmcArticle, error) {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	dec.Strict = false

	art := &pmcArticle{}
	var path []string
	var surname, given string

	inside := func(name string) bool {
		for _, p := range path {
			if p == name {
				return true
			}
		}
		return false
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			path = append(path, t.Name.Local)
		case xml.EndElement:
			if t.Name.Local == "contrib" && (surname != "" || given != "") {
				art.Authors = append(art.Authors, strings.TrimSpace(given+" "+surname))
				surname, given = "", ""
			}
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		case xml.CharData:
			text := string(t)
			if strings.TrimSpace(text) == "" {
				continue
			}
			switch {
			case inside("title-group") && inside("article-title"):
				art.Title += text
			case inside("abstract"):
				art.Abstract += text
			case inside("body"):
				art.Body += text
			case inside("surname") && inside("contrib"):
				surname += text
			case inside("given-names") && inside("contrib"):
				given += text
			}
		}
	}
	art.Title = strings.TrimSpace(art.Title)
	art.Abstract = strings.TrimSpace(art.Abstract)
	art.Body = strings.TrimSpace(art.Body)
	return art, nil
}
