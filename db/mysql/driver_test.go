package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithParseTime(t *testing.T) {
	assert.Equal(t, "u:p@tcp(db:3306)/quests?parseTime=true", withParseTime("u:p@tcp(db:3306)/quests"))
	assert.Equal(t, "u:p@/quests?charset=utf8mb4&parseTime=true", withParseTime("u:p@/quests?charset=utf8mb4"))
	assert.Equal(t, "u:p@/quests?parseTime=false", withParseTime("u:p@/quests?parseTime=false"))
}
