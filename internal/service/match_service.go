package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"equihire-go/internal/config"
	"equihire-go/internal/explain"
	"equihire-go/internal/fairness"
	"equihire-go/internal/model"
	"equihire-go/internal/repository"
	"equihire-go/pkg/embedding"
	"equihire-go/pkg/errs"
	"equihire-go/pkg/log"
	"equihire-go/pkg/tasks"
	"equihire-go/pkg/vectorindex"
)

// MatchService 编排一次匹配请求：向量化 → 排序 → 审计 → 解释。
// 排序是主要产出，审计与解释失败只会让结果变为 partial。
type MatchService interface {
	ComputeMatches(ctx context.Context, req model.MatchRequest) (*model.MatchResponse, error)
	ExplainMatch(ctx context.Context, jobID, resumeID string) (*model.Explanation, error)
	GetFairnessReport(ctx context.Context, jobID string, topK int) (*model.FairnessReport, error)
	Mitigate(ctx context.Context, jobID string, topK int, attribute string) (*model.MitigationPlan, error)
	ReportArchiveURL(ctx context.Context, jobID, reportID string) (string, error)
	Reprocess(ctx context.Context, all bool, limit int) (ReprocessSummary, error)
}

// ReferenceSource 提供解释所需的参考向量，explain.BaselineCache 满足该接口。
type ReferenceSource interface {
	Reference(ctx context.Context, modelVersion string) ([]float32, error)
}

// EventPublisher 发布匹配完成事件。
type EventPublisher interface {
	PublishMatchComputed(ctx context.Context, evt tasks.MatchComputedEvent) error
}

// ReportArchiver 把公平性报告归档到对象存储。
type ReportArchiver interface {
	ArchiveJSON(ctx context.Context, jobID, reportID string, v interface{}) (string, error)
	ArchiveKey(jobID, reportID string) string
	PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Dependencies 是 MatchService 的协作者。Candidates/Matches/Events/Archive/Baseline 可以为 nil。
type Dependencies struct {
	Embedder   embedding.Embedder
	Index      vectorindex.Index
	Auditor    fairness.Auditor
	Explainer  explain.Explainer
	Baseline   ReferenceSource
	Candidates repository.CandidateRepository
	Matches    repository.MatchRepository
	Snapshots  repository.SnapshotRepository
	Events     EventPublisher
	Archive    ReportArchiver
}

// Options 控制编排器的超时、并发与缓存。
type Options struct {
	DefaultTopK    int
	MaxTopK        int
	PoolLimit      int
	RequestTimeout time.Duration
	EmbedTimeout   time.Duration
	IndexTimeout   time.Duration
	AuditTimeout   time.Duration
	ExplainTimeout time.Duration
	PersistTimeout time.Duration
	ReportCacheTTL time.Duration
	MaxConcurrency int
	Retry          RetryPolicy
	// Keywords 为 nil 时解释摘要使用 explain.DefaultKeywords。
	Keywords []string
}

// OptionsFromConfig 从全局配置构造 Options。
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		DefaultTopK:    cfg.Matching.DefaultTopK,
		MaxTopK:        cfg.Matching.MaxTopK,
		PoolLimit:      cfg.Index.PoolLimit,
		RequestTimeout: cfg.Matching.RequestTimeout,
		EmbedTimeout:   cfg.Embedding.Timeout,
		IndexTimeout:   cfg.Matching.IndexTimeout,
		AuditTimeout:   cfg.Fairness.Timeout,
		ExplainTimeout: cfg.Explainer.Timeout,
		ReportCacheTTL: cfg.Matching.ReportCacheTTL,
		MaxConcurrency: cfg.Explainer.MaxConcurrency,
		Retry:          RetryPolicyFromConfig(cfg.Matching.Retry),
		Keywords:       cfg.Explainer.Keywords,
	}
}

// ReprocessSummary 汇总一次批量重算。
type ReprocessSummary struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Failures  map[string]string `json:"failures,omitempty"`
}

type matchService struct {
	deps Dependencies
	opts Options
	now  func() time.Time
}

// NewMatchService 创建 MatchService。
func NewMatchService(deps Dependencies, opts Options) MatchService {
	if deps.Snapshots == nil {
		deps.Snapshots = repository.NewMemorySnapshotRepository()
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 10
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 200
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	return &matchService{deps: deps, opts: opts, now: time.Now}
}

// ComputeMatches 执行完整的匹配状态机。
// 排序完成之前的失败返回 FAILED 与错误；排序完成之后的任何问题（包括请求取消）都只体现为
// partial 结果，状态总是 COMPLETE。
func (s *matchService) ComputeMatches(ctx context.Context, req model.MatchRequest) (*model.MatchResponse, error) {
	resp := &model.MatchResponse{
		RequestID:    uuid.NewString(),
		JobID:        strings.TrimSpace(req.JobID),
		State:        model.StateReceived,
		ModelVersion: s.deps.Embedder.ModelVersion(),
		Results:      []model.MatchResult{},
	}
	if resp.JobID == "" {
		return s.fail(resp, errs.NewInput("jobId", "must not be empty"))
	}
	topK, err := s.resolveTopK(req.TopK)
	if err != nil {
		return s.fail(resp, err)
	}
	resp.TopK = topK

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	log.Infof("[MatchService] 开始匹配, requestId: %s, jobId: %s, topK: %d", resp.RequestID, resp.JobID, topK)

	text, err := s.jobText(ctx, resp.JobID, req.JobText)
	if err != nil {
		return s.fail(resp, err)
	}
	jobVec, err := s.embedJob(ctx, resp.JobID, text)
	if err != nil {
		return s.fail(resp, err)
	}
	resp.State = model.StateEmbedded

	snap, err := s.rank(ctx, resp.JobID, jobVec.Values, topK)
	if err != nil {
		return s.fail(resp, err)
	}
	ranked := snap.Candidates
	resp.State = model.StateRanked
	resp.Generation = snap.Generation
	resp.PoolSize = len(ranked)
	resp.IndexSize = snap.IndexSize
	if len(ranked) == 0 {
		resp.State = model.StateComplete
		resp.ComputedAt = model.Now()
		log.Infof("[MatchService] 索引为空, requestId: %s", resp.RequestID)
		return resp, nil
	}

	selected := ranked
	if len(selected) > topK {
		selected = selected[:topK]
	}
	for _, c := range selected {
		resp.Results = append(resp.Results, model.MatchResult{Candidate: c})
	}

	wanted := s.explainTargets(resp.Results, req.Explain)
	en := s.enrich(ctx, resp.JobID, text, snap, jobVec.Values, wanted)
	s.apply(ctx, resp, en, wanted)

	s.persist(ctx, resp, snap, req.JobText, en)
	log.Infof("[MatchService] 匹配结束, requestId: %s, state: %s, results: %d, partial: %v",
		resp.RequestID, resp.State, len(resp.Results), resp.Partial)
	return resp, nil
}

type enrichment struct {
	report       *model.FairnessReport
	auditErr     error
	explanations map[string]*model.Explanation
	explainErrs  map[string]error
}

// enrich 并发执行审计和按需解释，两者互不依赖。失败不会取消另一方。
func (s *matchService) enrich(ctx context.Context, jobID, jobText string, snap *model.RankingSnapshot, jobVec []float32, wanted []model.MatchCandidate) enrichment {
	en := enrichment{
		explanations: make(map[string]*model.Explanation, len(wanted)),
		explainErrs:  make(map[string]error),
	}
	var mu sync.Mutex
	var g errgroup.Group

	g.Go(func() error {
		en.report, en.auditErr = s.audit(ctx, snap)
		return nil
	})

	g.Go(func() error {
		var eg errgroup.Group
		eg.SetLimit(s.opts.MaxConcurrency)
		for _, c := range wanted {
			eg.Go(func() error {
				exp, err := s.explainOne(ctx, jobID, jobText, jobVec, c, true)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					en.explainErrs[c.ResumeID] = err
				} else {
					en.explanations[c.ResumeID] = exp
				}
				return nil
			})
		}
		return eg.Wait()
	})

	_ = g.Wait()
	return en
}

// apply 把审计与解释的结果合并进响应，并推进状态机。
func (s *matchService) apply(ctx context.Context, resp *model.MatchResponse, en enrichment, wanted []model.MatchCandidate) {
	if en.auditErr != nil {
		reason := "fairness audit unavailable: " + en.auditErr.Error()
		log.Warnf("[MatchService] 公平性审计失败, requestId: %s, error: %v", resp.RequestID, en.auditErr)
		for i := range resp.Results {
			resp.Results[i].MarkPartial(model.ComponentFairness, reason)
		}
	} else {
		resp.Report = en.report
		for i := range resp.Results {
			resp.Results[i].FairnessReportID = en.report.ID
		}
		resp.State = model.StateAudited
	}

	for i := range resp.Results {
		r := &resp.Results[i]
		id := r.Candidate.ResumeID
		if exp, ok := en.explanations[id]; ok {
			r.Explanation = exp
			if !exp.Converged {
				r.MarkPartial(model.ComponentExplanation, fmt.Sprintf("attribution did not converge after %d samples", exp.Samples))
			}
		} else if err, ok := en.explainErrs[id]; ok {
			log.Warnf("[MatchService] 解释失败, requestId: %s, resumeId: %s, error: %v", resp.RequestID, id, err)
			r.MarkPartial(model.ComponentExplanation, "explanation unavailable: "+err.Error())
		}
	}
	if len(wanted) > 0 && len(en.explainErrs) == 0 && resp.State == model.StateAudited {
		resp.State = model.StateExplained
	}

	// 请求在增强阶段被取消或超时时记下已到达的阶段，排序照常返回
	if ctx.Err() != nil && (en.auditErr != nil || len(en.explainErrs) > 0) {
		resp.InterruptedAt = resp.State
		log.Warnf("[MatchService] 请求在增强阶段被取消, requestId: %s, 已到达: %s", resp.RequestID, resp.State)
	}
	resp.State = model.StateComplete

	missing := map[string]bool{}
	for _, r := range resp.Results {
		if r.Partial {
			resp.Partial = true
		}
		for _, c := range r.MissingComponents {
			if !missing[c] {
				missing[c] = true
				resp.Missing = append(resp.Missing, c)
			}
		}
	}
	resp.ComputedAt = model.Now()
}

// explainTargets 返回需要解释且在入选结果中的候选人，重复的 id 只计一次。
func (s *matchService) explainTargets(results []model.MatchResult, ids []string) []model.MatchCandidate {
	if len(ids) == 0 {
		return nil
	}
	byID := make(map[string]model.MatchCandidate, len(results))
	for _, r := range results {
		byID[r.Candidate.ResumeID] = r.Candidate
	}
	seen := map[string]bool{}
	var out []model.MatchCandidate
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		c, ok := byID[id]
		if !ok {
			log.Warnf("[MatchService] 请求解释的简历不在入选结果中, resumeId: %s", id)
			continue
		}
		out = append(out, c)
	}
	return out
}

// ExplainMatch 按需计算单个 (job, resume) 对的解释。
func (s *matchService) ExplainMatch(ctx context.Context, jobID, resumeID string) (*model.Explanation, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errs.NewInput("jobId", "must not be empty")
	}
	if strings.TrimSpace(resumeID) == "" {
		return nil, errs.NewInput("resumeId", "must not be empty")
	}
	text, err := s.jobText(ctx, jobID, "")
	if err != nil {
		return nil, err
	}
	jobVec, err := s.embedJob(ctx, jobID, text)
	if err != nil {
		return nil, err
	}
	exp, err := s.explainOne(ctx, jobID, text, jobVec.Values, model.MatchCandidate{JobID: jobID, ResumeID: resumeID}, false)
	if err != nil {
		return nil, err
	}

	if s.deps.Matches != nil {
		pctx, cancel := s.persistContext(ctx)
		defer cancel()
		if err := s.deps.Matches.SaveExplanation(pctx, exp); err != nil {
			log.Warnf("[MatchService] 保存解释失败, jobId: %s, resumeId: %s, error: %v", jobID, resumeID, err)
		}
	}
	return exp, nil
}

// GetFairnessReport 返回某个 job 在当前索引代数下的公平性报告。
// 依次查找报告缓存、数据库中同一代数的报告，都没有时基于存储的 job 文本重新计算。
// 候选池发生变化（代数改变）后旧报告自动失效。
func (s *matchService) GetFairnessReport(ctx context.Context, jobID string, topK int) (*model.FairnessReport, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errs.NewInput("jobId", "must not be empty")
	}
	topK, err := s.resolveTopK(topK)
	if err != nil {
		return nil, err
	}

	generation, err := s.generation(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := s.deps.Snapshots.GetReport(ctx, jobID, generation, topK)
	if err != nil {
		log.Warnf("[MatchService] 读取报告缓存失败, jobId: %s, error: %v", jobID, err)
	}
	if cached != nil {
		return cached, nil
	}
	if stored := s.storedReport(ctx, jobID, generation, topK); stored != nil {
		return stored, nil
	}

	snap, err := s.currentRanking(ctx, jobID, topK)
	if err != nil {
		return nil, err
	}
	report, err := s.audit(ctx, snap)
	if err != nil {
		return nil, err
	}
	s.storeReport(ctx, report)
	return report, nil
}

// storedReport 从数据库读取同一代数的报告并回填缓存，缓存过期或被驱逐后避免重新审计。
func (s *matchService) storedReport(ctx context.Context, jobID string, generation uint64, topK int) *model.FairnessReport {
	if s.deps.Matches == nil {
		return nil
	}
	report, err := s.deps.Matches.LatestReport(ctx, jobID, generation, topK)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			log.Warnf("[MatchService] 读取已保存的公平性报告失败, jobId: %s, error: %v", jobID, err)
		}
		return nil
	}
	if err := s.deps.Snapshots.SaveReport(ctx, report, s.opts.ReportCacheTTL); err != nil {
		log.Warnf("[MatchService] 缓存公平性报告失败, jobId: %s, error: %v", jobID, err)
	}
	return report
}

// Mitigate 基于当前报告与排序生成重加权建议。
func (s *matchService) Mitigate(ctx context.Context, jobID string, topK int, attribute string) (*model.MitigationPlan, error) {
	report, err := s.GetFairnessReport(ctx, jobID, topK)
	if err != nil {
		return nil, err
	}
	snap, err := s.currentRanking(ctx, jobID, report.TopK)
	if err != nil {
		return nil, err
	}
	labels, err := s.labels(ctx, snap.Candidates)
	if err != nil {
		return nil, err
	}
	plan, err := fairness.Mitigate(report, snap.Candidates, labels, attribute)
	if err != nil {
		return nil, err
	}
	plan.GeneratedAt = s.now()
	return plan, nil
}

// ReportArchiveURL 返回已归档报告的限时下载链接。
func (s *matchService) ReportArchiveURL(ctx context.Context, jobID, reportID string) (string, error) {
	if s.deps.Archive == nil {
		return "", errs.Unavailable("storage", errors.New("report archive is not configured"))
	}
	return s.deps.Archive.PresignedURL(ctx, s.deps.Archive.ArchiveKey(jobID, reportID), 15*time.Minute)
}

// Reprocess 重新计算 job 的匹配结果。all=false 时只处理还没有结果的 job。
func (s *matchService) Reprocess(ctx context.Context, all bool, limit int) (ReprocessSummary, error) {
	summary := ReprocessSummary{Failures: map[string]string{}}
	if s.deps.Candidates == nil {
		return summary, errors.New("reprocess requires a job store")
	}
	if limit <= 0 {
		limit = 100
	}

	after := ""
	for summary.Total < limit {
		jobs, err := s.deps.Candidates.ListJobs(ctx, after, 100)
		if err != nil {
			return summary, fmt.Errorf("读取职位失败: %w", err)
		}
		if len(jobs) == 0 {
			break
		}
		after = jobs[len(jobs)-1].ID

		for _, job := range jobs {
			if summary.Total >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if !all && s.deps.Matches != nil {
				done, err := s.deps.Matches.HasResults(ctx, job.ID)
				if err != nil {
					return summary, fmt.Errorf("查询匹配结果失败: %w", err)
				}
				if done {
					continue
				}
			}
			summary.Total++
			if _, err := s.ComputeMatches(ctx, model.MatchRequest{JobID: job.ID, JobText: job.Text}); err != nil {
				summary.Failed++
				summary.Failures[job.ID] = err.Error()
				log.Warnf("[MatchService] 重算失败, jobId: %s, error: %v", job.ID, err)
				continue
			}
			summary.Processed++
		}
	}
	log.Infof("[MatchService] 重算完成, total: %d, processed: %d, failed: %d", summary.Total, summary.Processed, summary.Failed)
	return summary, nil
}

func (s *matchService) fail(resp *model.MatchResponse, err error) (*model.MatchResponse, error) {
	resp.State = model.StateFailed
	resp.FailureReason = err.Error()
	resp.ComputedAt = model.Now()
	log.Warnf("[MatchService] 匹配失败, requestId: %s, jobId: %s, error: %v", resp.RequestID, resp.JobID, err)
	return resp, err
}

func (s *matchService) resolveTopK(topK int) (int, error) {
	if topK == 0 {
		return s.opts.DefaultTopK, nil
	}
	if topK < 0 || topK > s.opts.MaxTopK {
		return 0, errs.NewInput("topK", fmt.Sprintf("must be between 1 and %d", s.opts.MaxTopK))
	}
	return topK, nil
}

// jobText 优先使用请求中的文本，其次是数据库，最后是之前请求缓存的文本。
func (s *matchService) jobText(ctx context.Context, jobID, text string) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	return s.storedText(ctx, model.KindJob, jobID)
}

// storedText 依次从数据库和文本缓存读取原文，都没有时返回 ErrNotFound。
func (s *matchService) storedText(ctx context.Context, kind model.DocKind, id string) (string, error) {
	if s.deps.Candidates != nil {
		var text string
		var err error
		if kind == model.KindJob {
			var job *model.Job
			if job, err = s.deps.Candidates.GetJob(ctx, id); err == nil {
				text = job.Text
			}
		} else {
			var resume *model.Resume
			if resume, err = s.deps.Candidates.GetResume(ctx, id); err == nil {
				text = resume.Text
			}
		}
		if err == nil && text != "" {
			return text, nil
		}
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return "", err
		}
	}
	text, err := s.deps.Snapshots.Text(ctx, kind, id)
	if err != nil {
		log.Warnf("[MatchService] 读取原文缓存失败, %s: %s, error: %v", kind, id, err)
	}
	if text != "" {
		return text, nil
	}
	return "", fmt.Errorf("no stored text for %s %s: %w", strings.ToLower(string(kind)), id, errs.ErrNotFound)
}

// embedJob 向量化 job 文本，缓存由 Embedder 自身负责。
func (s *matchService) embedJob(ctx context.Context, jobID, text string) (model.EmbeddingVector, error) {
	var vec model.EmbeddingVector
	err := withRetry(ctx, s.opts.Retry, "embedder", s.opts.EmbedTimeout, func(ctx context.Context) error {
		var err error
		vec, err = s.deps.Embedder.Embed(ctx, text, model.KindJob)
		return err
	})
	vec.OwnerID = jobID
	return vec, err
}

// generation 读取当前候选池版本。
func (s *matchService) generation(ctx context.Context) (uint64, error) {
	var generation uint64
	err := withRetry(ctx, s.opts.Retry, "index", s.opts.IndexTimeout, func(ctx context.Context) error {
		var err error
		generation, err = s.deps.Index.Generation(ctx)
		return err
	})
	return generation, err
}

// rank 返回整个候选池的排序快照，包含排序所依据的索引代数和索引大小。
// 池的大小为 min(索引大小, PoolLimit)，但不少于 topK。PoolLimit 为 0 时对整个索引排序。
func (s *matchService) rank(ctx context.Context, jobID string, vector []float32, topK int) (*model.RankingSnapshot, error) {
	generation, err := s.generation(ctx)
	if err != nil {
		return nil, err
	}

	var n int
	err = withRetry(ctx, s.opts.Retry, "index", s.opts.IndexTimeout, func(ctx context.Context) error {
		var err error
		n, err = s.deps.Index.Len(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	snap := &model.RankingSnapshot{
		JobID:      jobID,
		TopK:       topK,
		Generation: generation,
		IndexSize:  n,
		Candidates: []model.MatchCandidate{},
		CreatedAt:  s.now(),
	}
	if n == 0 {
		return snap, nil
	}

	k := n
	if s.opts.PoolLimit > 0 && s.opts.PoolLimit < k {
		k = s.opts.PoolLimit
	}
	if k < topK {
		k = topK
	}

	var hits []vectorindex.Hit
	err = withRetry(ctx, s.opts.Retry, "index", s.opts.IndexTimeout, func(ctx context.Context) error {
		var err error
		hits, err = s.deps.Index.Query(ctx, vector, k)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap.Candidates = make([]model.MatchCandidate, len(hits))
	for i, h := range hits {
		snap.Candidates[i] = model.MatchCandidate{JobID: jobID, ResumeID: h.ID, Score: h.Score, Rank: i + 1}
	}
	if len(hits) < n {
		log.Warnf("[MatchService] 候选池被截断, jobId: %s, 排序: %d, 索引: %d", jobID, len(hits), n)
	}
	return snap, nil
}

// currentRanking 返回与当前索引代数一致的排序快照，过期时重新计算并写回缓存。
func (s *matchService) currentRanking(ctx context.Context, jobID string, topK int) (*model.RankingSnapshot, error) {
	generation, err := s.generation(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.deps.Snapshots.GetSnapshot(ctx, jobID, topK)
	if err != nil {
		log.Warnf("[MatchService] 读取排序快照失败, jobId: %s, error: %v", jobID, err)
	}
	if snap != nil && snap.Generation == generation {
		return snap, nil
	}

	text, err := s.jobText(ctx, jobID, "")
	if err != nil {
		return nil, err
	}
	jobVec, err := s.embedJob(ctx, jobID, text)
	if err != nil {
		return nil, err
	}
	snap, err = s.rank(ctx, jobID, jobVec.Values, topK)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Snapshots.SaveSnapshot(ctx, snap, s.opts.ReportCacheTTL); err != nil {
		log.Warnf("[MatchService] 保存排序快照失败, jobId: %s, error: %v", jobID, err)
	}
	return snap, nil
}

func (s *matchService) labels(ctx context.Context, ranked []model.MatchCandidate) (model.LabelSet, error) {
	if s.deps.Candidates == nil {
		return model.LabelSet{}, nil
	}
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ResumeID
	}
	var labels model.LabelSet
	err := withRetry(ctx, s.opts.Retry, "labels", s.opts.AuditTimeout, func(ctx context.Context) error {
		var err error
		labels, err = s.deps.Candidates.LabelsFor(ctx, ids)
		if err != nil {
			return errs.Unavailable("labels", err)
		}
		return nil
	})
	return labels, err
}

// audit 以快照中的整个排序为基准池审计 top-K，并记录基准池是否覆盖了整个索引。
func (s *matchService) audit(ctx context.Context, snap *model.RankingSnapshot) (*model.FairnessReport, error) {
	labels, err := s.labels(ctx, snap.Candidates)
	if err != nil {
		return nil, err
	}
	var report *model.FairnessReport
	err = withRetry(ctx, s.opts.Retry, "fairness", s.opts.AuditTimeout, func(ctx context.Context) error {
		var err error
		report, err = s.deps.Auditor.Audit(ctx, snap.JobID, snap.Candidates, labels, snap.TopK)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.Generation = snap.Generation
	report.IndexSize = snap.IndexSize
	report.PoolTruncated = len(snap.Candidates) < snap.IndexSize
	return report, nil
}

// explainOne 计算单个候选人的解释。trustScore 为 true 且索引是精确检索时沿用排序分数，否则重新计算余弦。
// 能取到简历原文时附加共同词和关键词证据。
func (s *matchService) explainOne(ctx context.Context, jobID, jobText string, jobVec []float32, c model.MatchCandidate, trustScore bool) (*model.Explanation, error) {
	var exp *model.Explanation
	err := withRetry(ctx, s.opts.Retry, "explainer", s.opts.ExplainTimeout, func(ctx context.Context) error {
		resumeVec, err := s.deps.Index.Get(ctx, c.ResumeID)
		if err != nil {
			return err
		}
		var ref []float32
		if s.deps.Baseline != nil {
			if ref, err = s.deps.Baseline.Reference(ctx, s.deps.Embedder.ModelVersion()); err != nil {
				return err
			}
		}
		score := c.Score
		if !trustScore || !s.deps.Index.Exact() {
			if score, err = vectorindex.Cosine(jobVec, resumeVec); err != nil {
				return err
			}
		}
		exp, err = s.deps.Explainer.Explain(ctx, explain.Input{
			JobID:        jobID,
			ResumeID:     c.ResumeID,
			Job:          jobVec,
			Resume:       resumeVec,
			Score:        score,
			Reference:    ref,
			ModelVersion: s.deps.Embedder.ModelVersion(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	resumeText, err := s.storedText(ctx, model.KindResume, c.ResumeID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		log.Warnf("[MatchService] 读取简历原文失败，解释中不含词项证据, resumeId: %s, error: %v", c.ResumeID, err)
	}
	explain.Describe(exp, jobText, resumeText, s.opts.Keywords)
	return exp, nil
}

func (s *matchService) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.PersistTimeout)
}

// storeReport 缓存、落库并归档报告，失败只记录日志。
func (s *matchService) storeReport(ctx context.Context, report *model.FairnessReport) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if err := s.deps.Snapshots.SaveReport(pctx, report, s.opts.ReportCacheTTL); err != nil {
		log.Warnf("[MatchService] 缓存公平性报告失败, jobId: %s, error: %v", report.JobID, err)
	}
	if s.deps.Matches != nil {
		if err := s.deps.Matches.SaveReport(pctx, report); err != nil {
			log.Warnf("[MatchService] 保存公平性报告失败, jobId: %s, error: %v", report.JobID, err)
		}
	}
	if s.deps.Archive != nil {
		key, err := s.deps.Archive.ArchiveJSON(pctx, report.JobID, report.ID, report)
		if err != nil {
			log.Warnf("[MatchService] 归档公平性报告失败, jobId: %s, error: %v", report.JobID, err)
		} else {
			log.Infof("[MatchService] 公平性报告已归档, key: %s", key)
		}
	}
}

// persist 保存排序快照、job 原文、结果与解释并发布事件。请求已取消时仍然执行，失败不影响响应。
// 请求中带了 job 原文时写入文本缓存，之后的解释和报告请求不再需要数据库。
func (s *matchService) persist(ctx context.Context, resp *model.MatchResponse, snap *model.RankingSnapshot, jobText string, en enrichment) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if err := s.deps.Snapshots.SaveSnapshot(pctx, snap, s.opts.ReportCacheTTL); err != nil {
		log.Warnf("[MatchService] 保存排序快照失败, jobId: %s, error: %v", resp.JobID, err)
	}
	if strings.TrimSpace(jobText) != "" {
		if err := s.deps.Snapshots.SaveText(pctx, model.KindJob, resp.JobID, jobText, 0); err != nil {
			log.Warnf("[MatchService] 缓存 job 原文失败, jobId: %s, error: %v", resp.JobID, err)
		}
	}
	if resp.Report != nil {
		s.storeReport(pctx, resp.Report)
	}

	if s.deps.Matches != nil {
		if err := s.deps.Matches.SaveResults(pctx, resp); err != nil {
			log.Warnf("[MatchService] 保存匹配结果失败, requestId: %s, error: %v", resp.RequestID, err)
		}
		for _, exp := range en.explanations {
			if err := s.deps.Matches.SaveExplanation(pctx, exp); err != nil {
				log.Warnf("[MatchService] 保存解释失败, resumeId: %s, error: %v", exp.ResumeID, err)
			}
		}
	}

	if s.deps.Events != nil {
		evt := tasks.MatchComputedEvent{
			RequestID:  resp.RequestID,
			JobID:      resp.JobID,
			TopK:       resp.TopK,
			PoolSize:   resp.PoolSize,
			Generation: resp.Generation,
			State:      string(resp.State),
			Partial:    resp.Partial,
			Missing:    resp.Missing,
			ComputedAt: s.now(),
		}
		if resp.Report != nil {
			passed := resp.Report.Passed
			evt.ReportID = resp.Report.ID
			evt.FairnessPassed = &passed
		}
		for _, r := range resp.Results {
			evt.ResumeIDs = append(evt.ResumeIDs, r.Candidate.ResumeID)
		}
		if err := s.deps.Events.PublishMatchComputed(pctx, evt); err != nil {
			log.Warnf("[MatchService] 发布匹配事件失败, requestId: %s, error: %v", resp.RequestID, err)
		}
	}
}
