package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func req(p Privilege, c Coherence, fields ...FieldID) *Requirement {
	if len(fields) == 0 {
		fields = []FieldID{0}
	}
	return &Requirement{
		Region:    LogicalRegion{Index: IndexSpace{ID: 1}, Field: FieldSpace{ID: 1}, Tree: 1},
		Privilege: p,
		Coherence: c,
		Fields:    fields,
	}
}

func TestCheckDependence(t *testing.T) {
	testCases := []struct {
		name    string
		earlier *Requirement
		later   *Requirement
		want    DependenceType
	}{
		{"read read", req(ReadOnly, Exclusive), req(ReadOnly, Exclusive), NoDependence},
		{"write write", req(ReadWrite, Exclusive), req(ReadWrite, Exclusive), TrueDependence},
		{"read after write", req(ReadWrite, Exclusive), req(ReadOnly, Exclusive), TrueDependence},
		{"write after read", req(ReadOnly, Exclusive), req(WriteDiscard, Exclusive), AntiDependence},
		{"same reduction", &Requirement{Region: req(Reduce, Exclusive).Region, Privilege: Reduce, Redop: 7, Fields: []FieldID{0}},
			&Requirement{Region: req(Reduce, Exclusive).Region, Privilege: Reduce, Redop: 7, Fields: []FieldID{0}}, NoDependence},
		{"different reduction", &Requirement{Region: req(Reduce, Exclusive).Region, Privilege: Reduce, Redop: 7, Fields: []FieldID{0}},
			&Requirement{Region: req(Reduce, Exclusive).Region, Privilege: Reduce, Redop: 9, Fields: []FieldID{0}}, TrueDependence},
		{"disjoint fields", req(ReadWrite, Exclusive, 1), req(ReadWrite, Exclusive, 2), NoDependence},
		{"simultaneous", req(ReadWrite, Simultaneous), req(ReadWrite, Exclusive), SimultaneousDependence},
		{"atomic", req(ReadWrite, Atomic), req(ReadWrite, Exclusive), AtomicDependence},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckDependence(tc.earlier, tc.later))
		})
	}
}

func TestPrivilegeSubsumes(t *testing.T) {
	assert.True(t, ReadWrite.Subsumes(ReadOnly))
	assert.True(t, ReadWrite.Subsumes(Reduce))
	assert.True(t, ReadOnly.Subsumes(ReadOnly))
	assert.False(t, ReadOnly.Subsumes(ReadWrite))
	assert.False(t, Reduce.Subsumes(ReadOnly))
	assert.True(t, NoAccess.Subsumes(NoAccess))
}

func TestInterferes(t *testing.T) {
	a := LogicalRegion{Index: IndexSpace{ID: 1}, Field: FieldSpace{ID: 1}, Tree: 1}
	sameTreeOtherIndex := LogicalRegion{Index: IndexSpace{ID: 2}, Field: FieldSpace{ID: 1}, Tree: 1}
	otherTree := LogicalRegion{Index: IndexSpace{ID: 1}, Field: FieldSpace{ID: 1}, Tree: 2}

	assert.True(t, Interferes(a, a))
	assert.False(t, Interferes(a, sameTreeOtherIndex))
	assert.False(t, Interferes(a, otherTree))
}
