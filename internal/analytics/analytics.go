// Package analytics aggregates graded submissions into class and student reports.
package analytics

import (
	"math"
	"sort"

	"github.com/pavelanni/gradedesk/internal/model"
)

const (
	// PassingScore is the raw score threshold of the lowest bucket. Scores are
	// bucketed against a 100-point scale regardless of the exam's actual maximum.
	PassingScore = 60
	goodScore    = 80

	// reinforcementThreshold is the accuracy under which a knowledge point needs reinforcement.
	reinforcementThreshold = 0.7
	maxErrorFactors        = 3
)

// Analyze computes the class analysis of an exam from its questions and submissions.
// Only graded submissions are counted. With nothing graded it returns a zero
// structure with empty lists.
func Analyze(examID string, questions []model.Question, submissions []model.Submission) model.ClassAnalysis {
	a := model.ClassAnalysis{
		ExamID:              examID,
		ScoreDistribution:   []model.ScoreBucket{},
		QuestionStats:       []model.QuestionStat{},
		KnowledgePointStats: []model.KnowledgePointStat{},
	}

	graded := gradedOnly(submissions)
	if len(graded) == 0 {
		return a
	}

	a.TotalStudents = len(graded)
	sum := 0
	a.MaxScore, a.MinScore = graded[0].TotalScore, graded[0].TotalScore
	buckets := []model.ScoreBucket{{Range: "0-60"}, {Range: "60-80"}, {Range: "80-100"}}
	for _, s := range graded {
		sum += s.TotalScore
		a.MaxScore = max(a.MaxScore, s.TotalScore)
		a.MinScore = min(a.MinScore, s.TotalScore)
		switch {
		case s.TotalScore < PassingScore:
			buckets[0].Count++
		case s.TotalScore < goodScore:
			buckets[1].Count++
		default:
			buckets[2].Count++
		}
		if s.GradingFailed(len(questions)) {
			a.FailedGradings++
		}
	}
	a.AverageScore = int(math.Round(float64(sum) / float64(len(graded))))
	a.ScoreDistribution = buckets

	byQuestion := resultsByQuestion(graded)
	ordered := sortedByIndex(questions)

	for _, q := range ordered {
		results := byQuestion[q.ID]
		incorrect, scoreSum := 0, 0
		for _, r := range results {
			scoreSum += r.Score
			if !r.Correct {
				incorrect++
			}
		}
		divisor := float64(max(len(results), 1))
		a.QuestionStats = append(a.QuestionStats, model.QuestionStat{
			QuestionID:     q.ID,
			QuestionIndex:  q.Index,
			KnowledgePoint: q.KnowledgePoint,
			ErrorRate:      float64(incorrect) / divisor,
			AvgScore:       float64(scoreSum) / divisor,
			ErrorFactors:   errorFactors(results),
		})
	}

	pos := make(map[string]int)
	for _, q := range ordered {
		i, ok := pos[q.KnowledgePoint]
		if !ok {
			i = len(a.KnowledgePointStats)
			pos[q.KnowledgePoint] = i
			a.KnowledgePointStats = append(a.KnowledgePointStats, model.KnowledgePointStat{Point: q.KnowledgePoint})
		}
		st := &a.KnowledgePointStats[i]
		for _, r := range byQuestion[q.ID] {
			st.Total++
			if r.Correct {
				st.Correct++
			}
		}
	}
	for i := range a.KnowledgePointStats {
		st := &a.KnowledgePointStats[i]
		if st.Total > 0 {
			st.Accuracy = float64(st.Correct) / float64(st.Total)
		}
		st.Issue = Flag(st.Total, st.Accuracy)
	}
	return a
}

// Flag classifies a knowledge point. Points nobody answered are fine.
func Flag(total int, accuracy float64) model.KnowledgeFlag {
	if total > 0 && accuracy < reinforcementThreshold {
		return model.FlagNeedsReinforcement
	}
	return model.FlagFine
}

func gradedOnly(submissions []model.Submission) []model.Submission {
	var graded []model.Submission
	for _, s := range submissions {
		if s.Status == model.SubmissionGraded {
			graded = append(graded, s)
		}
	}
	return graded
}

func resultsByQuestion(subs []model.Submission) map[string][]model.QuestionResult {
	m := make(map[string][]model.QuestionResult)
	for _, s := range subs {
		for _, r := range s.Results {
			m[r.QuestionID] = append(m[r.QuestionID], r)
		}
	}
	return m
}

func sortedByIndex(questions []model.Question) []model.Question {
	ordered := make([]model.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	return ordered
}

// errorFactors lists the most frequent error analyses of the incorrect results.
func errorFactors(results []model.QuestionResult) []string {
	counts := make(map[string]int)
	var order []string
	for _, r := range results {
		if r.Correct || r.ErrorAnalysis == "" {
			continue
		}
		if counts[r.ErrorAnalysis] == 0 {
			order = append(order, r.ErrorAnalysis)
		}
		counts[r.ErrorAnalysis]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > maxErrorFactors {
		order = order[:maxErrorFactors]
	}
	if order == nil {
		order = []string{}
	}
	return order
}
