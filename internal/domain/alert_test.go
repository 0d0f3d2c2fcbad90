package domain

import (
	"errors"
	"testing"

	"github.com/maya/rewear/internal/apperr"
)

func validVector() Vector {
	v := make(Vector, EmbeddingDimension)
	v[0] = 1
	return v
}

func TestSearchAlertValidate(t *testing.T) {
	base := func() *SearchAlert {
		return &SearchAlert{
			UserID:              "u1",
			Description:         "vintage denim jacket",
			TextEmbedding:       validVector(),
			MatchMode:           MatchModeText,
			SimilarityThreshold: 0.72,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*SearchAlert)
		wantErr error
	}{
		{
			name:   "valid text alert",
			mutate: func(a *SearchAlert) {},
		},
		{
			name:    "missing user",
			mutate:  func(a *SearchAlert) { a.UserID = "" },
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "unknown mode",
			mutate:  func(a *SearchAlert) { a.MatchMode = "vibes" },
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "threshold above one",
			mutate:  func(a *SearchAlert) { a.SimilarityThreshold = 1.2 },
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "threshold below zero",
			mutate:  func(a *SearchAlert) { a.SimilarityThreshold = -0.1 },
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "short text embedding",
			mutate:  func(a *SearchAlert) { a.TextEmbedding = Vector{1, 2, 3} },
			wantErr: apperr.ErrDimension,
		},
		{
			name:    "image mode without image embedding",
			mutate:  func(a *SearchAlert) { a.MatchMode = MatchModeImage },
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "hybrid mode without image embedding",
			mutate:  func(a *SearchAlert) { a.MatchMode = MatchModeHybrid },
			wantErr: apperr.ErrValidation,
		},
		{
			name: "hybrid mode with both embeddings",
			mutate: func(a *SearchAlert) {
				a.MatchMode = MatchModeHybrid
				a.ImageEmbedding = validVector()
			},
		},
		{
			name:    "wrong-size image embedding",
			mutate:  func(a *SearchAlert) { a.ImageEmbedding = Vector{1, 2} },
			wantErr: apperr.ErrDimension,
		},
		{
			name:    "unknown condition grade",
			mutate:  func(a *SearchAlert) { a.ConditionMin = "E" },
			wantErr: apperr.ErrValidation,
		},
		{
			name: "negative max price",
			mutate: func(a *SearchAlert) {
				p := -5.0
				a.MaxPrice = &p
			},
			wantErr: apperr.ErrValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := base()
			tc.mutate(a)
			err := a.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestConditionGradeAtLeast(t *testing.T) {
	tests := []struct {
		grade ConditionGrade
		min   ConditionGrade
		want  bool
	}{
		{ConditionA, ConditionB, true},
		{ConditionB, ConditionB, true},
		{ConditionC, ConditionB, false},
		{ConditionD, ConditionA, false},
		{ConditionA, ConditionD, true},
		{"?", ConditionD, false},
		{ConditionA, "?", false},
	}

	for _, tc := range tests {
		if got := tc.grade.AtLeast(tc.min); got != tc.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tc.grade, tc.min, got, tc.want)
		}
	}
}
