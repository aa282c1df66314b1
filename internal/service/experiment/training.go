package experiment

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
)

var (
	minLearningRate = decimal.RequireFromString("0.00001")
	maxLearningRate = decimal.NewFromInt(1)
)

// applyTraining parses the numeric training parameters. Values arrive as text
// so that both JSON strings and numbers are accepted.
func applyTraining(verr *domain.ValidationError, t *domain.TrainingParams, in Input) {
	if in.TrainingBatchSize != nil {
		t.BatchSize = parseInt(verr, "trainingBatchSize", *in.TrainingBatchSize, 1, 10000)
	}
	if in.EpisodeLength != nil {
		t.EpisodeLength = parseInt(verr, "episodeLength", *in.EpisodeLength, 0, math.MaxInt32)
	}
	if in.StepsTrainedFor != nil {
		t.StepsTrainedFor = parseCount(verr, "stepsTrainedFor", *in.StepsTrainedFor)
	}
	if in.EpochsTrainedFor != nil {
		t.EpochsTrainedFor = parseCount(verr, "epochsTrainedFor", *in.EpochsTrainedFor)
	}
	if in.EpisodesInDataset != nil {
		t.EpisodesInDataset = parseCount(verr, "episodesInDataset", *in.EpisodesInDataset)
	}
	if in.FramesInDataset != nil {
		t.FramesInDataset = parseCount(verr, "framesInDataset", *in.FramesInDataset)
	}
	if in.LearningRate != nil {
		rate := parseDecimal(verr, "learningRate", *in.LearningRate)
		if rate != nil && (rate.LessThan(minLearningRate) || rate.GreaterThan(maxLearningRate)) {
			verr.Add("learningRate", "must be between 0.00001 and 1")
		}
		t.LearningRate = rate
	}
	if in.TaskHoursInDataset != nil {
		hours := parseDecimal(verr, "taskHoursInDataset", *in.TaskHoursInDataset)
		if hours != nil && hours.IsNegative() {
			verr.Add("taskHoursInDataset", "must not be negative")
		}
		t.TaskHoursInDataset = hours
	}
}

// parseInt parses an integer within [lo, hi]. Both columns it feeds are INTEGER,
// so hi must not exceed math.MaxInt32.
func parseInt(verr *domain.ValidationError, field, raw string, lo, hi int) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(field, "must be an integer")
		return nil
	}
	if v < lo || v > hi {
		verr.Add(field, "must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return nil
	}
	return &v
}

func parseCount(verr *domain.ValidationError, field, raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		verr.Add(field, "must be an integer")
		return nil
	}
	if v < 0 {
		verr.Add(field, "must not be negative")
		return nil
	}
	return &v
}

func parseDecimal(verr *domain.ValidationError, field, raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		verr.Add(field, "must be a number")
		return nil
	}
	return &d
}
