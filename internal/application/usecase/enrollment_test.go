package usecase

import (
	"context"
	"sync"
	"testing"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnroll_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, _ := env.course(t, 0, 3)

	first, created, err := env.enrollments.Enroll(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.EnrollmentActive, first.Status)

	second, created, err := env.enrollments.Enroll(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))

	cp, err := env.store.Enrollments.GetCourseProgress(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.TotalLessons)
	assert.Zero(t, cp.CompletedLessons)
	assert.Zero(t, cp.ProgressPercentage)
}

func TestEnroll_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	student := env.student(t)
	course, _ := env.course(t, 0, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := env.enrollments.Enroll(context.Background(), student.ID, course.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, int64(1), env.enrollmentCount(t, student.ID, course.ID))
}

func TestEnroll_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	course, _ := env.course(t, 0, 1)

	instructor := repotest.User(t, env.store, domain.RoleInstructor)
	_, _, err := env.enrollments.Enroll(ctx, instructor.ID, course.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	draft, _ := repotest.Course(t, env.store, course.InstructorID, domain.CourseDraft, 0, 1)
	_, _, err = env.enrollments.Enroll(ctx, env.student(t).ID, draft.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnrollFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	free, _ := env.course(t, 0, 1)
	paid, _ := env.course(t, 2500, 1)

	e, created, err := env.enrollments.EnrollFree(ctx, student.ID, free.Slug)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, free.ID, e.CourseID)

	_, _, err = env.enrollments.EnrollFree(ctx, student.ID, paid.Slug)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)

	_, _, err = env.enrollments.EnrollFree(ctx, student.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnrollFree_ReactivatesDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	course, lessons := env.course(t, 0, 2)

	e, _, err := env.enrollments.EnrollFree(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	_, err = env.progress.RecordLessonWatched(ctx, student.ID, e.ID, lessons[0].ID, 60, true)
	require.NoError(t, err)
	_, err = env.enrollments.Drop(ctx, student.ID, e.ID)
	require.NoError(t, err)

	back, created, err := env.enrollments.EnrollFree(ctx, student.ID, course.Slug)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, domain.EnrollmentActive, back.Status)

	// прогресс до отчисления сохраняется
	cp, err := env.progress.GetCourseProgress(ctx, student.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.CompletedLessons)
}

func TestEnrollment_ListGetCompleteDrop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	student := env.student(t)
	other := env.student(t)
	c1, _ := env.course(t, 0, 2)
	c2, _ := env.course(t, 0, 2)

	e1, _, err := env.enrollments.Enroll(ctx, student.ID, c1.ID)
	require.NoError(t, err)
	e2, _, err := env.enrollments.Enroll(ctx, student.ID, c2.ID)
	require.NoError(t, err)

	_, err = env.enrollments.Get(ctx, other.ID, e1.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	got, err := env.enrollments.Get(ctx, student.ID, e1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Course)
	require.NotNil(t, got.CourseProgress)
	assert.Equal(t, c1.Title, got.Course.Title)

	done, err := env.enrollments.Complete(ctx, student.ID, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	again, err := env.enrollments.Complete(ctx, student.ID, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt.Unix(), again.CompletedAt.Unix())

	dropped, err := env.enrollments.Drop(ctx, student.ID, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnrollmentDropped, dropped.Status)

	_, err = env.enrollments.Complete(ctx, student.ID, e2.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	active, err := env.enrollments.List(ctx, student.ID, domain.EnrollmentCompleted)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, e1.ID, active[0].ID)

	all, err := env.enrollments.List(ctx, student.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.enrollments.List(ctx, student.ID, "paused")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
