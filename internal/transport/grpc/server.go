package grpc_server

import (
	"context"
	"time"

	"coursemarket/internal/application/usecase"
	"coursemarket/internal/domain"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type LearningServer struct {
	progress *usecase.ProgressAggregator
	payments *usecase.PaymentReconciler
}

func NewLearningServer(pa *usecase.ProgressAggregator, pr *usecase.PaymentReconciler) *LearningServer {
	return &LearningServer{progress: pa, payments: pr}
}

var _ LearningService = (*LearningServer)(nil)

// GetProgress: {student_id, enrollment_id}
func (s *LearningServer) GetProgress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	studentID, err := uuidField(req, "student_id")
	if err != nil {
		return nil, err
	}
	enrollmentID, err := uuidField(req, "enrollment_id")
	if err != nil {
		return nil, err
	}

	cp, err := s.progress.GetCourseProgress(ctx, studentID, enrollmentID)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(courseProgressFields(cp))
}

// RecordLessonProgress: {student_id, enrollment_id, lesson_id, watched_seconds, completed}
func (s *LearningServer) RecordLessonProgress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	studentID, err := uuidField(req, "student_id")
	if err != nil {
		return nil, err
	}
	enrollmentID, err := uuidField(req, "enrollment_id")
	if err != nil {
		return nil, err
	}
	lessonID, err := uuidField(req, "lesson_id")
	if err != nil {
		return nil, err
	}
	f := req.GetFields()

	res, err := s.progress.RecordLessonWatched(ctx, studentID, enrollmentID, lessonID,
		int64(f["watched_seconds"].GetNumberValue()), f["completed"].GetBoolValue())
	if err != nil {
		return nil, err
	}

	lesson := map[string]interface{}{
		"lesson_id":       res.Lesson.LessonID.String(),
		"is_completed":    res.Lesson.IsCompleted,
		"watched_seconds": float64(res.Lesson.WatchedSeconds),
	}
	if res.Lesson.CompletedAt != nil {
		lesson["completed_at"] = res.Lesson.CompletedAt.Format(time.RFC3339)
	}
	return structpb.NewStruct(map[string]interface{}{
		"lesson": lesson,
		"course": courseProgressFields(res.Course),
	})
}

// ReconcileCheckout: {user_id, session_id} - та же сверка, что и на странице возврата.
func (s *LearningServer) ReconcileCheckout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := uuidField(req, "user_id")
	if err != nil {
		return nil, err
	}
	sessionID := req.GetFields()["session_id"].GetStringValue()
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}

	res, err := s.payments.CompleteFromReturn(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"payment_id": res.Payment.ID.String(),
		"status":     string(res.Payment.Status),
	}
	if res.Enrollment != nil {
		out["enrollment_id"] = res.Enrollment.ID.String()
	}
	return structpb.NewStruct(out)
}

// ReconcileStale: {older_than_seconds}
func (s *LearningServer) ReconcileStale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	secs := req.GetFields()["older_than_seconds"].GetNumberValue()
	if secs <= 0 {
		return nil, status.Error(codes.InvalidArgument, "older_than_seconds must be positive")
	}

	n, err := s.payments.ReconcileStale(ctx, time.Duration(secs)*time.Second)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"resolved": float64(n)})
}

func uuidField(req *structpb.Struct, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(req.GetFields()[name].GetStringValue())
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s must be a uuid", name)
	}
	return id, nil
}

func courseProgressFields(cp *domain.CourseProgress) map[string]interface{} {
	return map[string]interface{}{
		"enrollment_id":       cp.EnrollmentID.String(),
		"total_lessons":       float64(cp.TotalLessons),
		"completed_lessons":   float64(cp.CompletedLessons),
		"progress_percentage": cp.ProgressPercentage,
	}
}
