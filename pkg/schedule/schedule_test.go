package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchedule() Schedule {
	return Schedule{
		Name: "weekday",
		Slots: []DoseSlot{
			{
				Compartment: 1,
				Time:        "08:00",
				Pills: []Pill{
					{Name: "Lisinopril", Count: 1},
					{Name: "Metformin", Count: 2},
				},
			},
			{
				Compartment: 3,
				Time:        "20:30",
				Pills: []Pill{
					{Name: "Atorvastatin", Count: 1},
				},
			},
		},
	}
}

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Schedule)
		wantErr string
	}{
		{
			name:   "valid schedule passes",
			mutate: func(s *Schedule) {},
		},
		{
			name:    "no slots",
			mutate:  func(s *Schedule) { s.Slots = nil },
			wantErr: "no dose slots",
		},
		{
			name:    "compartment zero",
			mutate:  func(s *Schedule) { s.Slots[0].Compartment = 0 },
			wantErr: "compartment must be >= 1",
		},
		{
			name:    "negative compartment",
			mutate:  func(s *Schedule) { s.Slots[1].Compartment = -2 },
			wantErr: "compartment must be >= 1",
		},
		{
			name:    "unparseable time",
			mutate:  func(s *Schedule) { s.Slots[0].Time = "8am" },
			wantErr: "bad time",
		},
		{
			name:    "out of range time",
			mutate:  func(s *Schedule) { s.Slots[0].Time = "25:61" },
			wantErr: "bad time",
		},
		{
			name:    "empty time",
			mutate:  func(s *Schedule) { s.Slots[0].Time = "" },
			wantErr: "bad time",
		},
		{
			name:    "slot without pills",
			mutate:  func(s *Schedule) { s.Slots[1].Pills = nil },
			wantErr: "no pills",
		},
		{
			name:    "unnamed pill",
			mutate:  func(s *Schedule) { s.Slots[0].Pills[0].Name = "" },
			wantErr: "name is empty",
		},
		{
			name:    "zero count",
			mutate:  func(s *Schedule) { s.Slots[0].Pills[1].Count = 0 },
			wantErr: "count must be >= 1",
		},
		{
			name:    "negative count",
			mutate:  func(s *Schedule) { s.Slots[0].Pills[0].Count = -1 },
			wantErr: "count must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSchedule()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err, "Expected schedule to validate")
				return
			}
			require.Error(t, err, "Expected validation failure")
			assert.Contains(t, err.Error(), tt.wantErr, "Error should name the defect")
		})
	}
}

func TestSchedulePillCount(t *testing.T) {
	s := sampleSchedule()
	assert.Equal(t, 4, s.PillCount(), "Pill count should sum all slots")

	assert.Zero(t, Schedule{}.PillCount(), "Empty schedule dispenses nothing")
}

func TestScheduleDigest(t *testing.T) {
	a := sampleSchedule()
	b := sampleSchedule()

	digestA, err := a.Digest()
	require.NoError(t, err, "Digest failed")
	digestB, err := b.Digest()
	require.NoError(t, err, "Digest failed")

	assert.Equal(t, digestA, digestB, "Equal schedules must hash equal")
	assert.Len(t, digestA, 64, "Digest should be hex sha-256")

	b.Slots[0].Pills[0].Count++
	digestB, err = b.Digest()
	require.NoError(t, err, "Digest failed")
	assert.NotEqual(t, digestA, digestB, "Any content change must change the digest")
}
