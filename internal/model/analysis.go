package model

// KnowledgeFlag classifies how well a knowledge point is mastered.
type KnowledgeFlag string

const (
	FlagNeedsReinforcement KnowledgeFlag = "needs_reinforcement"
	FlagFine               KnowledgeFlag = "fine"
)

// ScoreBucket is one bar of the score distribution.
type ScoreBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// QuestionStat summarises how the class did on one question.
type QuestionStat struct {
	QuestionID     string   `json:"questionId"`
	QuestionIndex  int      `json:"questionIndex"`
	KnowledgePoint string   `json:"knowledgePoint"`
	ErrorRate      float64  `json:"errorRate"`
	AvgScore       float64  `json:"avgScore"`
	ErrorFactors   []string `json:"errorFactors"`
}

// KnowledgePointStat summarises accuracy over all questions sharing a knowledge point.
type KnowledgePointStat struct {
	Point    string        `json:"point"`
	Total    int           `json:"total"`
	Correct  int           `json:"correct"`
	Accuracy float64       `json:"accuracy"`
	Issue    KnowledgeFlag `json:"issue"`
}

// ClassAnalysis is the class-level report of one exam.
type ClassAnalysis struct {
	ExamID              string               `json:"examId"`
	TotalStudents       int                  `json:"totalStudents"`
	AverageScore        int                  `json:"averageScore"`
	MaxScore            int                  `json:"maxScore"`
	MinScore            int                  `json:"minScore"`
	FailedGradings      int                  `json:"failedGradings"`
	ScoreDistribution   []ScoreBucket        `json:"scoreDistribution"`
	QuestionStats       []QuestionStat       `json:"questionStats"`
	KnowledgePointStats []KnowledgePointStat `json:"knowledgePointStats"`
}

// ResultView is one row of a student report.
type ResultView struct {
	QuestionIndex  int    `json:"questionIndex"`
	KnowledgePoint string `json:"knowledgePoint"`
	MaxScore       int    `json:"maxScore"`
	QuestionResult
}

// StudentReport is the per-student view of one graded submission.
type StudentReport struct {
	ExamID        string           `json:"examId"`
	Student       Student          `json:"student"`
	SubmissionID  string           `json:"submissionId"`
	Status        SubmissionStatus `json:"status"`
	TotalScore    int              `json:"totalScore"`
	CorrectCount  int              `json:"correctCount"`
	AnsweredCount int              `json:"answeredCount"`
	Accuracy      float64          `json:"accuracy"`
	Rank          int              `json:"rank"`
	RankedOf      int              `json:"rankedOf"`
	GradingFailed bool             `json:"gradingFailed"`
	Results       []ResultView     `json:"results"`
}

// ClassReport is the printable class report: the analysis plus derived teaching hints.
type ClassReport struct {
	Exam         Exam          `json:"exam"`
	Analysis     ClassAnalysis `json:"analysis"`
	WeakestPoint string        `json:"weakestPoint,omitempty"`
	BelowPassing int           `json:"belowPassing"`
}

// ExamExport is the JSON document written by the export command.
type ExamExport struct {
	Exam        Exam          `json:"exam"`
	Questions   []Question    `json:"questions"`
	Submissions []Submission  `json:"submissions"`
	Analysis    ClassAnalysis `json:"analysis"`
}
