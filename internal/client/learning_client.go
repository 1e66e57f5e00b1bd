package client

import (
	"context"
	"fmt"
	"time"

	grpc_server "coursemarket/internal/transport/grpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

type LearningClient struct {
	conn *grpc.ClientConn
}

func NewLearningClient(url string, opts ...grpc.DialOption) (*LearningClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(url, opts...)
	if err != nil {
		return nil, err
	}
	return &LearningClient{conn: cc}, nil
}

func (c *LearningClient) Close() error { return c.conn.Close() }

type CourseProgress struct {
	EnrollmentID       string
	TotalLessons       int64
	CompletedLessons   int64
	ProgressPercentage float64
}

type CheckoutState struct {
	PaymentID    string
	Status       string
	EnrollmentID string
}

func (c *LearningClient) GetProgress(ctx context.Context, studentID, enrollmentID string) (*CourseProgress, error) {
	out, err := c.invoke(ctx, grpc_server.MethodGetProgress, map[string]interface{}{
		"student_id":    studentID,
		"enrollment_id": enrollmentID,
	})
	if err != nil {
		return nil, err
	}
	return progressFrom(out), nil
}

func (c *LearningClient) RecordLessonProgress(ctx context.Context, studentID, enrollmentID, lessonID string, watchedSeconds int64, completed bool) (*CourseProgress, error) {
	out, err := c.invoke(ctx, grpc_server.MethodRecordLessonProgress, map[string]interface{}{
		"student_id":      studentID,
		"enrollment_id":   enrollmentID,
		"lesson_id":       lessonID,
		"watched_seconds": float64(watchedSeconds),
		"completed":       completed,
	})
	if err != nil {
		return nil, err
	}
	return progressFrom(out.GetFields()["course"].GetStructValue()), nil
}

func (c *LearningClient) ReconcileCheckout(ctx context.Context, userID, sessionID string) (*CheckoutState, error) {
	out, err := c.invoke(ctx, grpc_server.MethodReconcileCheckout, map[string]interface{}{
		"user_id":    userID,
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}
	f := out.GetFields()
	return &CheckoutState{
		PaymentID:    f["payment_id"].GetStringValue(),
		Status:       f["status"].GetStringValue(),
		EnrollmentID: f["enrollment_id"].GetStringValue(),
	}, nil
}

func (c *LearningClient) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	out, err := c.invoke(ctx, grpc_server.MethodReconcileStale, map[string]interface{}{
		"older_than_seconds": olderThan.Seconds(),
	})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()["resolved"].GetNumberValue()), nil
}

func (c *LearningClient) invoke(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func progressFrom(s *structpb.Struct) *CourseProgress {
	f := s.GetFields()
	return &CourseProgress{
		EnrollmentID:       f["enrollment_id"].GetStringValue(),
		TotalLessons:       int64(f["total_lessons"].GetNumberValue()),
		CompletedLessons:   int64(f["completed_lessons"].GetNumberValue()),
		ProgressPercentage: f["progress_percentage"].GetNumberValue(),
	}
}
