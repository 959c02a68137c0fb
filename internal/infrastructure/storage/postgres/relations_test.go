package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain/query"
)

type board struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`

	Cards []card `db:"-"`
}

type card struct {
	ID      int64  `db:"id"`
	BoardID int64  `db:"board_id"`
	Title   string `db:"title"`
}

func TestHasMany_LoadsChildrenInOneQuery(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})

	txm := NewTxManagerFromDB(mock, TxOptions{})
	repo := NewRepository[board](txm, "boards").WithRelation("cards", HasMany[board, card]{
		Table:      "cards",
		ForeignKey: "board_id",
		OrderBy:    "id ASC",
		ParentID:   func(b *board) int64 { return b.ID },
		ChildFK:    func(c card) int64 { return c.BoardID },
		Set:        func(b *board, cs []card) { b.Cards = cs },
	}.Relation())

	mock.ExpectQuery("SELECT boards.id, boards.name FROM boards LIMIT 100").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "todo").
			AddRow(int64(2), "done"))
	mock.ExpectQuery("SELECT cards.id, cards.board_id, cards.title FROM cards " +
		"WHERE cards.board_id IN ($1,$2) AND cards.is_deleted = $3 ORDER BY cards.board_id, cards.id ASC").
		WithArgs(int64(1), int64(2), false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "board_id", "title"}).
			AddRow(int64(10), int64(1), "write tests").
			AddRow(int64(11), int64(1), "ship"))

	boards, err := repo.GetAll(context.Background(), query.New().Load("cards"))
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Equal(t, []card{
		{ID: 10, BoardID: 1, Title: "write tests"},
		{ID: 11, BoardID: 1, Title: "ship"},
	}, boards[0].Cards)
	assert.NotNil(t, boards[1].Cards)
	assert.Empty(t, boards[1].Cards)
}
