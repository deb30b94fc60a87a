package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"equihire-go/internal/model"
	"equihire-go/pkg/errs"
)

type pgvectorIndex struct {
	db           *gorm.DB
	table        string
	dim          int
	modelVersion string
}

// NewPgvectorIndex 创建基于 PostgreSQL pgvector 的精确索引，并确保扩展和表存在。
func NewPgvectorIndex(ctx context.Context, db *gorm.DB, table string, dim int, modelVersion string) (Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("pgvector index requires positive dimensions, got %d", dim)
	}
	x := &pgvectorIndex{db: db, table: table, dim: dim, modelVersion: modelVersion}
	if err := x.migrate(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *pgvectorIndex) migrate(ctx context.Context) error {
	db := x.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		resume_id varchar(64) PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		model_version varchar(50),
		updated_at timestamptz
	)`, x.table, x.dim)
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("create %s: %w", x.table, err)
	}
	return nil
}

func (x *pgvectorIndex) Backend() string { return "pgvector" }

func (x *pgvectorIndex) Exact() bool { return true }

func (x *pgvectorIndex) Dimensions() int { return x.dim }

type tableState struct {
	N      int64
	Latest int64
}

// Generation 由行数和最大 updated_at（微秒）推导，多个实例共享同一张表时结果一致。
func (x *pgvectorIndex) Generation(ctx context.Context) (uint64, error) {
	var st tableState
	sql := fmt.Sprintf(`SELECT count(*) AS n,
		COALESCE(floor(extract(epoch FROM max(updated_at)) * 1000000), 0)::bigint AS latest
		FROM %s`, x.table)
	if err := x.db.WithContext(ctx).Raw(sql).Scan(&st).Error; err != nil {
		return 0, errs.Unavailable("index", err)
	}
	return stateGeneration(x.Backend(), x.table, st.N, st.Latest), nil
}

// Upsert 用 ON CONFLICT 在单条语句内替换整行。
func (x *pgvectorIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	if id == "" {
		return errs.NewInput("id", "must not be empty")
	}
	if err := checkDim(x.dim, id, vector); err != nil {
		return err
	}
	// updated_at 取数据库时钟，各实例的本地时钟偏差不会影响 Generation
	row := map[string]interface{}{
		"resume_id":     id,
		"embedding":     pgvector.NewVector(vector),
		"model_version": x.modelVersion,
		"updated_at":    gorm.Expr("clock_timestamp()"),
	}
	err := x.db.WithContext(ctx).Table(x.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resume_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "model_version", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return errs.Unavailable("index", err)
	}
	return nil
}

func (x *pgvectorIndex) Delete(ctx context.Context, id string) error {
	res := x.db.WithContext(ctx).Table(x.table).Where("resume_id = ?", id).Delete(&model.ResumeVector{})
	if res.Error != nil {
		return errs.Unavailable("index", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (x *pgvectorIndex) Get(ctx context.Context, id string) ([]float32, error) {
	var rec model.ResumeVector
	err := x.db.WithContext(ctx).Table(x.table).Where("resume_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Unavailable("index", err)
	}
	return rec.Embedding.Slice(), nil
}

func (x *pgvectorIndex) Len(ctx context.Context) (int, error) {
	var n int64
	if err := x.db.WithContext(ctx).Table(x.table).Count(&n).Error; err != nil {
		return 0, errs.Unavailable("index", err)
	}
	return int(n), nil
}

type scoredRow struct {
	ResumeID string
	Score    float64
}

// Query 按 1 - (embedding <=> q) 计算余弦相似度。
// pgvector 对零向量返回 NaN，这里按定义换成 0。
func (x *pgvectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if err := validateTopK(topK); err != nil {
		return nil, err
	}
	if err := checkDim(x.dim, "", vector); err != nil {
		return nil, err
	}
	q := pgvector.NewVector(vector)
	sql := fmt.Sprintf(`
		SELECT resume_id, score FROM (
			SELECT resume_id,
				CASE WHEN d = 'NaN'::float8 THEN 0 ELSE 1 - d END AS score
			FROM (SELECT resume_id, embedding <=> ? AS d FROM %s) s
		) ranked
		ORDER BY score DESC, resume_id ASC
		LIMIT ?`, x.table)

	var rows []scoredRow
	if err := x.db.WithContext(ctx).Raw(sql, q, topK).Scan(&rows).Error; err != nil {
		return nil, errs.Unavailable("index", err)
	}
	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = Hit{ID: r.ResumeID, Score: r.Score}
	}
	return hits, nil
}

func (x *pgvectorIndex) Vectors(ctx context.Context, fn func(id string, vector []float32) error) error {
	rows, err := x.db.WithContext(ctx).Table(x.table).Select("resume_id", "embedding").Rows()
	if err != nil {
		return errs.Unavailable("index", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return err
		}
		if err := fn(id, vec.Slice()); err != nil {
			return err
		}
	}
	return rows.Err()
}
