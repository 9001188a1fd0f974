package sampler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/models"
)

// LoadSynthetic decodes a bulk dataset, either an array of users or a single user
// object, and pairs each user's day i with the targets recorded on day i+1. Days
// missing a required section are skipped individually.
func LoadSynthetic(r io.Reader) (Samples, Report, error) {
	users, err := decodeSyntheticUsers(r)
	if err != nil {
		return Samples{}, Report{}, fmt.Errorf("failed to decode synthetic dataset: %w", err)
	}

	var samples Samples
	var report Report
	for _, user := range users {
		s, rep := syntheticPairs(user)
		samples = Pool(samples, s)
		report.Merge(rep)
	}
	return samples, report, nil
}

func decodeSyntheticUsers(r io.Reader) ([]models.SyntheticUser, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var users []models.SyntheticUser
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, err
		}
		return users, nil
	}

	var user models.SyntheticUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return []models.SyntheticUser{user}, nil
}

func syntheticPairs(user models.SyntheticUser) (Samples, Report) {
	report := Report{Days: len(user.Data)}
	var samples Samples

	for i := 0; i+1 < len(user.Data); i++ {
		date := fmt.Sprintf("%s/day-%d", user.UserID, i)
		x, err := features.ExtractDaily(date, user.Data[i])
		if err != nil {
			logger.Warn("Skipping synthetic day", "error", err)
			report.Structural = append(report.Structural, err)
			report.PairsSkipped++
			continue
		}

		ml := user.Data[i+1].MLData
		if ml == nil || ml.PredictedCP == nil || ml.PredictedPE == nil {
			report.PairsSkipped++
			continue
		}
		cp, pe := float64(*ml.PredictedCP), float64(*ml.PredictedPE)
		y, ok := target(&cp, &pe)
		if !ok || !x.Valid() {
			report.SamplesSkipped++
			report.PairsSkipped++
			continue
		}
		samples.Add(x, y)
		report.PairsUsed++
	}
	return samples, report
}

// LoadSyntheticFile reads one bulk dataset file
func LoadSyntheticFile(path string) (Samples, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Samples{}, Report{}, fmt.Errorf("failed to open synthetic dataset: %w", err)
	}
	defer f.Close()

	samples, report, err := LoadSynthetic(f)
	if err != nil {
		return Samples{}, Report{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return samples, report, nil
}

// LoadSyntheticDir pools every *.json dataset in dir, in file name order.
// An unreadable file is logged and skipped.
func LoadSyntheticDir(dir string) (Samples, Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Samples{}, Report{}, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var samples Samples
	var report Report
	for _, name := range names {
		s, rep, err := LoadSyntheticFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping synthetic dataset file", "file", name, "error", err)
			continue
		}
		logger.Debug("Loaded synthetic dataset file", "file", name, "samples", s.Len())
		samples = Pool(samples, s)
		report.Merge(rep)
	}
	return samples, report, nil
}
