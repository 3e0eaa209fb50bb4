package nlsql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateComplexity_Simple(t *testing.T) {
	for _, sql := range []string{
		"SELECT * FROM ih.patients",
		"SELECT count(*) FROM ih.patients",
		"SELECT id, name FROM ih.patients WHERE status = 'active' ORDER BY name",
	} {
		complexity, _ := EstimateComplexity(sql)
		assert.Equal(t, ComplexitySimple, complexity, "input: %s", sql)
	}
}

func TestEstimateComplexity_ModerateByJoins(t *testing.T) {
	sql := `SELECT p.id FROM ih.patients p
		JOIN ih.appointments a ON a.patient_id = p.id
		JOIN ih.providers pr ON pr.id = a.provider_id`
	complexity, tables := EstimateComplexity(sql)
	assert.Equal(t, ComplexityModerate, complexity)
	assert.ElementsMatch(t, []string{"ih.patients", "ih.appointments", "ih.providers"}, tables)
}

func TestEstimateComplexity_ModerateByAggregation(t *testing.T) {
	complexity, _ := EstimateComplexity("SELECT sum(amount) FROM ih.charges")
	assert.Equal(t, ComplexityModerate, complexity)

	complexity, _ = EstimateComplexity("SELECT avg(amount) FROM ih.charges GROUP BY practice_uid")
	assert.Equal(t, ComplexityModerate, complexity)
}

func TestEstimateComplexity_ComplexByJoinCount(t *testing.T) {
	sql := `SELECT a.id FROM ih.a
		JOIN ih.b ON b.a_id = a.id
		JOIN ih.c ON c.b_id = b.id
		JOIN ih.d ON d.c_id = c.id
		JOIN ih.e ON e.d_id = d.id`
	complexity, _ := EstimateComplexity(sql)
	assert.Equal(t, ComplexityComplex, complexity)
}

func TestEstimateComplexity_ComplexByWindowFunction(t *testing.T) {
	sql := "SELECT id, row_number() OVER (ORDER BY created_at) FROM ih.patients"
	complexity, _ := EstimateComplexity(sql)
	assert.Equal(t, ComplexityComplex, complexity)
}

func TestEstimateComplexity_Unparseable(t *testing.T) {
	complexity, tables := EstimateComplexity("not sql at all")
	assert.Equal(t, ComplexityComplex, complexity)
	assert.Nil(t, tables)
}

func TestEstimateComplexity_TablesDeduplicated(t *testing.T) {
	sql := "SELECT a.id FROM ih.patients a JOIN ih.patients b ON b.id = a.id"
	_, tables := EstimateComplexity(sql)
	assert.Equal(t, []string{"ih.patients"}, tables)
}
