package jobs

import "github.com/kestrelvision/kestrel/model"

// Aggregate computes job stats from a full result set. Finalization calls
// this over every durable result so the stored totals are exact regardless
// of how incremental updates were throttled while the job ran.
func Aggregate(task model.TaskKind, results []model.JobResult, durationSeconds float64) model.Stats {
	stats := model.Stats{
		ResultCount:     int64(len(results)),
		DurationSeconds: durationSeconds,
	}

	switch task {
	case model.TaskDetection:
		stats.Detection = aggregateDetection(results)
	case model.TaskClassification:
		stats.Classification = aggregateClassification(results)
	case model.TaskSegmentation:
		stats.Segmentation = aggregateSegmentation(results)
	}
	return stats
}

func aggregateDetection(results []model.JobResult) *model.DetectionStats {
	d := &model.DetectionStats{PerClass: make(map[string]int64)}
	var confSum float64
	var confCount int64

	for _, r := range results {
		d.TotalDetections += int64(len(r.Result.Boxes))
		for _, name := range r.Result.ClassNames {
			d.PerClass[name]++
		}
		for _, score := range r.Result.Scores {
			confSum += score
			confCount++
		}
	}
	if confCount > 0 {
		d.MeanConfidence = confSum / float64(confCount)
	}
	return d
}

func aggregateClassification(results []model.JobResult) *model.ClassificationStats {
	c := &model.ClassificationStats{PerClass: make(map[string]int64)}
	var confSum float64
	var confCount int64

	for _, r := range results {
		if r.Result.TopClass == "" {
			continue
		}
		c.PerClass[r.Result.TopClass]++
		confSum += r.Result.TopConfidence
		confCount++
	}
	if confCount > 0 {
		c.MeanTopConfidence = confSum / float64(confCount)
	}
	return c
}

func aggregateSegmentation(results []model.JobResult) *model.SegmentationStats {
	s := &model.SegmentationStats{PerClassMask: make(map[string]int64)}

	for _, r := range results {
		s.TotalMasks += int64(len(r.Result.Masks))
		for _, mask := range r.Result.Masks {
			s.PerClassMask[mask.Class]++
		}
	}
	return s
}
