package sentiment

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Analyzer is the capability boundary the pipeline depends on.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*AnalyzeResponse, error)
}

type Service struct {
	client *Client
	logger *logrus.Logger
}

func NewService(client *Client, logger *logrus.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

func (s *Service) Analyze(ctx context.Context, text string) (*AnalyzeResponse, error) {
	resp, err := s.client.AnalyzeWithRetry(ctx, AnalyzeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	// The analyzer contract is [-1, 1]; pull stray upstream values back in.
	if resp.Score > 1 {
		resp.Score = 1
	} else if resp.Score < -1 {
		resp.Score = -1
	}

	return resp, nil
}
