package activities

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"catflow/internal/chunking"
	"catflow/internal/config"
	"catflow/internal/extract"
	"catflow/internal/linking"
	"catflow/internal/metadata"
	"catflow/internal/models"
	"catflow/internal/providers"
	"catflow/internal/quality"
	"catflow/internal/scope"
	"catflow/internal/storage"
	"catflow/internal/util"
	"catflow/internal/vector"

	"github.com/panjf2000/ants/v2"
)

type Activities struct {
	cfg            config.Config
	documentRepo   *storage.DocumentRepo
	chunkRepo      *storage.ChunkRepo
	productRepo    *storage.ProductRepo
	imageRepo      *storage.ImageRepo
	relRepo        *storage.RelationshipRepo
	jobRepo        *storage.JobRepo
	checkpointRepo *storage.CheckpointRepo
	providers      *providers.Manager
	engine         *chunking.Engine
	linker         *linking.Linker
	scorer         *quality.Scorer
	applier        *metadata.Applier
}

func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	return &Activities{
		cfg:            cfg,
		documentRepo:   storage.NewDocumentRepo(db),
		chunkRepo:      storage.NewChunkRepo(db),
		productRepo:    storage.NewProductRepo(db),
		imageRepo:      storage.NewImageRepo(db),
		relRepo:        storage.NewRelationshipRepo(db),
		jobRepo:        storage.NewJobRepo(db),
		checkpointRepo: storage.NewCheckpointRepo(db),
		providers:      pm,
		engine: chunking.NewEngine(chunking.Config{
			MinChars:           cfg.MinChunkChars,
			MaxChars:           cfg.MaxChunkChars,
			Tolerance:          cfg.BoundaryTolerance,
			BoundaryConfidence: cfg.BoundaryConfidence,
		}),
		linker: linking.NewLinker(linking.Config{
			Threshold:   cfg.LinkThreshold,
			RelatedBand: cfg.RelatedBand,
			MaxLinks:    cfg.MaxImageLinks,
		}),
		scorer:  quality.NewScorer(cfg.QualityThreshold, cfg.MinChunkChars, cfg.MaxChunkChars),
		applier: metadata.NewApplier(metadata.LaterChunkWins, cfg.StageConcurrency),
	}, nil
}

// cancelRequested is polled between processing units so a cancel takes effect
// within one entity's latency instead of one stage's. A poll error counts as
// not cancelled; the workflow still checks at the next stage boundary.
func (a *Activities) cancelRequested(ctx context.Context, jobID string) bool {
	if jobID == "" {
		return false
	}
	c, err := a.jobRepo.IsCancelRequested(ctx, jobID)
	return err == nil && c
}

func checkVectorCount(provider string, got, want int) error {
	if got == want {
		return nil
	}
	return fmt.Errorf("embed via %s: got %d vectors for %d inputs", provider, got, want)
}

func (a *Activities) ExtractPagesActivity(ctx context.Context, in ExtractPagesInput) (ExtractPagesOutput, error) {
	ex, err := extract.ForPath(in.Path)
	if err != nil {
		return ExtractPagesOutput{}, err
	}
	pages, err := ex.Extract(ctx, in.Path)
	if err != nil {
		return ExtractPagesOutput{}, fmt.Errorf("extract %s: %w", filepath.Base(in.Path), err)
	}
	for i := range pages {
		pages[i].DocumentID = in.DocumentID
	}
	if err := a.documentRepo.UpsertPages(ctx, in.DocumentID, pages); err != nil {
		return ExtractPagesOutput{}, err
	}
	if err := a.documentRepo.UpdateDocumentStatus(ctx, in.DocumentID, "processing", len(pages)); err != nil {
		return ExtractPagesOutput{}, err
	}

	boundaries := extract.DetectBoundaries(in.DocumentID, pages)
	images := extract.DetectImages(in.DocumentID, pages)
	if err := a.imageRepo.UpsertImages(ctx, images); err != nil {
		return ExtractPagesOutput{}, err
	}
	return ExtractPagesOutput{
		PageCount:  len(pages),
		ImageCount: len(images),
		Boundaries: boundaries,
	}, nil
}

func (a *Activities) ChunkDocumentActivity(ctx context.Context, in ChunkDocumentInput) (ChunkDocumentOutput, error) {
	pages, err := a.documentRepo.ListPages(ctx, in.DocumentID)
	if err != nil {
		return ChunkDocumentOutput{}, err
	}
	pieces := a.engine.Chunk(pages, in.Boundaries)

	chunks := make([]models.Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunkID := util.SHA256Hex([]byte(fmt.Sprintf("%s:%d", in.DocumentID, p.Position)))[:32]
		chunks = append(chunks, models.Chunk{
			ChunkID:    chunkID,
			DocumentID: in.DocumentID,
			Position:   p.Position,
			Text:       p.Text,
			PageStart:  p.PageStart,
			PageEnd:    p.PageEnd,
			ProductID:  p.ProductID,
			Kind:       scope.ClassifyKind(p.Text),
		})
	}
	if err := a.chunkRepo.ReplaceChunks(ctx, in.DocumentID, chunks); err != nil {
		return ChunkDocumentOutput{}, err
	}
	return ChunkDocumentOutput{ChunkCount: len(chunks)}, nil
}

func (a *Activities) DetectProductsActivity(ctx context.Context, in DetectProductsInput) (DetectProductsOutput, error) {
	products := make([]models.Product, 0, len(in.Boundaries))
	for _, b := range in.Boundaries {
		products = append(products, models.Product{
			ProductID:  b.ProductID,
			DocumentID: in.DocumentID,
			Name:       b.Name,
			PageStart:  b.PageStart,
			PageEnd:    b.PageEnd,
			Confidence: b.Confidence,
		})
	}
	if err := a.productRepo.UpsertProducts(ctx, products); err != nil {
		return DetectProductsOutput{}, err
	}
	return DetectProductsOutput{ProductCount: len(products)}, nil
}

// ApplyMetadataActivity scopes every chunk, extracts its metadata mentions,
// then runs the two-pass application onto the document's products.
func (a *Activities) ApplyMetadataActivity(ctx context.Context, in ApplyMetadataInput) (ApplyMetadataOutput, error) {
	chunks, err := a.chunkRepo.ListAllChunks(ctx, in.DocumentID)
	if err != nil {
		return ApplyMetadataOutput{}, err
	}
	stored, err := a.productRepo.ListAllProducts(ctx, in.DocumentID)
	if err != nil {
		return ApplyMetadataOutput{}, err
	}

	names := make([]string, 0, len(stored))
	for _, p := range stored {
		names = append(names, p.Name)
	}

	detector := scope.NewDetector(a.providers.Classifiers(), time.Duration(a.cfg.ClassifierTimeoutSecs)*time.Second)

	// Scope detection per chunk, bounded concurrency. Each chunk is
	// independent here.
	var mu sync.Mutex
	pool, perr := ants.NewPool(a.cfg.StageConcurrency)
	if perr == nil {
		defer pool.Release()
	}
	var wg sync.WaitGroup
	cancelled := false
	for i := range chunks {
		if a.cancelRequested(ctx, in.JobID) {
			cancelled = true
			break
		}
		i := i
		task := func() {
			defer wg.Done()
			c := &chunks[i]
			res := detector.Detect(ctx, c.Text, names)
			mu.Lock()
			c.Scope = res.Scope
			c.ScopeConfidence = res.Confidence
			if len(res.ExtractedFields) > 0 {
				c.Metadata = make(map[string]models.MetadataValue, len(res.ExtractedFields))
				for k, v := range res.ExtractedFields {
					c.Metadata[k] = models.MetadataValue{Value: v, Scope: res.Scope, Confidence: res.Confidence}
				}
			}
			mu.Unlock()
		}
		wg.Add(1)
		if perr == nil {
			if err := pool.Submit(task); err != nil {
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()
	if cancelled {
		return ApplyMetadataOutput{Cancelled: true}, nil
	}

	products := make([]*models.Product, 0, len(stored))
	for i := range stored {
		products = append(products, &stored[i])
	}
	applied := a.applier.Apply(chunks, products)

	for i := range chunks {
		if a.cancelRequested(ctx, in.JobID) {
			// Partially persisted scopes are fine: a re-run recomputes and
			// rewrites them.
			return ApplyMetadataOutput{Cancelled: true}, nil
		}
		if err := a.chunkRepo.UpdateChunkScope(ctx, chunks[i]); err != nil {
			return ApplyMetadataOutput{}, err
		}
	}
	final := make([]models.Product, 0, len(products))
	for _, p := range products {
		final = append(final, *p)
	}
	if err := a.productRepo.UpsertProducts(ctx, final); err != nil {
		return ApplyMetadataOutput{}, err
	}

	return ApplyMetadataOutput{
		ChunksScoped:     len(chunks),
		ProductsUpdated:  applied.ProductsUpdated,
		OverridesApplied: applied.OverridesApplied,
		FieldsApplied:    applied.FieldsApplied,
		Issues:           applied.Issues,
	}, nil
}

// LinkImagesActivity embeds each image's caption and every chunk's text with
// the same provider, scores similarity, and replaces each image's
// relationship set. Derived metadata from linked chunks lands back on the
// image.
func (a *Activities) LinkImagesActivity(ctx context.Context, in LinkImagesInput) (LinkImagesOutput, error) {
	images, err := a.imageRepo.ListAllImages(ctx, in.DocumentID)
	if err != nil {
		return LinkImagesOutput{}, err
	}
	if len(images) == 0 {
		return LinkImagesOutput{}, nil
	}
	chunks, err := a.chunkRepo.ListAllChunks(ctx, in.DocumentID)
	if err != nil {
		return LinkImagesOutput{}, err
	}
	if len(chunks) == 0 {
		return LinkImagesOutput{}, nil
	}

	provider, ref := a.providers.EmbedProviderByIndex(0)

	chunkInputs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkInputs = append(chunkInputs, c.Text)
	}
	chunkVecs, _, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: "link_chunks",
		Inputs:    chunkInputs,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return LinkImagesOutput{}, fmt.Errorf("embed chunks via %s: %w", ref.Name, err)
	}
	if err := checkVectorCount(ref.Name, len(chunkVecs), len(chunkInputs)); err != nil {
		return LinkImagesOutput{}, err
	}

	captionInputs := make([]string, 0, len(images))
	for _, img := range images {
		caption := img.Caption
		if caption == "" {
			caption = img.RawRef
		}
		captionInputs = append(captionInputs, caption)
	}
	captionVecs, _, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: "link_captions",
		Inputs:    captionInputs,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return LinkImagesOutput{}, fmt.Errorf("embed captions via %s: %w", ref.Name, err)
	}
	if err := checkVectorCount(ref.Name, len(captionVecs), len(captionInputs)); err != nil {
		return LinkImagesOutput{}, err
	}

	out := LinkImagesOutput{}
	for i := range images {
		if a.cancelRequested(ctx, in.JobID) {
			out.Cancelled = true
			images = images[:i]
			break
		}
		img := &images[i]
		candidates := make([]linking.Candidate, 0, len(chunks))
		for j, c := range chunks {
			candidates = append(candidates, linking.Candidate{
				ChunkID:    c.ChunkID,
				Similarity: vector.Similarity(captionVecs[i], chunkVecs[j]),
				Metadata:   c.Metadata,
			})
		}
		rels := a.linker.Link(img.ImageID, candidates)
		if err := a.relRepo.ReplaceForImage(ctx, img.ImageID, rels); err != nil {
			return LinkImagesOutput{}, err
		}

		linked := make([]linking.Candidate, 0, len(rels))
		for _, rel := range rels {
			for _, cand := range candidates {
				if cand.ChunkID == rel.ChunkID {
					linked = append(linked, cand)
					break
				}
			}
		}
		derived := linking.DeriveMetadata(linked)
		img.Metadata = derived.Metadata
		img.MaterialProperties = derived.MaterialProperties
		img.LinkedChunkCount = len(rels)

		if len(rels) > 0 {
			out.ImagesLinked++
		}
		out.LinksCreated += len(rels)
	}
	if err := a.imageRepo.UpsertImages(ctx, images); err != nil {
		return LinkImagesOutput{}, err
	}
	return out, nil
}

func (a *Activities) ScoreQualityActivity(ctx context.Context, in ScoreQualityInput) (ScoreQualityOutput, error) {
	out := ScoreQualityOutput{}

	chunks, err := a.chunkRepo.ListAllChunks(ctx, in.DocumentID)
	if err != nil {
		return ScoreQualityOutput{}, err
	}
	linkedByProduct := map[string]int{}
	for _, c := range chunks {
		if a.cancelRequested(ctx, in.JobID) {
			out.Cancelled = true
			return out, nil
		}
		score := a.scorer.ScoreChunk(c)
		needsReview := a.scorer.NeedsReview(score)
		if err := a.chunkRepo.UpdateChunkQuality(ctx, c.ChunkID, score, needsReview); err != nil {
			return ScoreQualityOutput{}, err
		}
		out.ChunksScored++
		if needsReview {
			out.NeedsReview++
		}
	}

	images, err := a.imageRepo.ListAllImages(ctx, in.DocumentID)
	if err != nil {
		return ScoreQualityOutput{}, err
	}
	chunkProduct := map[string]*string{}
	for _, c := range chunks {
		chunkProduct[c.ChunkID] = c.ProductID
	}
	for i := range images {
		if a.cancelRequested(ctx, in.JobID) {
			out.Cancelled = true
			return out, nil
		}
		img := &images[i]
		rels, err := a.relRepo.ListForImage(ctx, img.ImageID)
		if err != nil {
			return ScoreQualityOutput{}, err
		}
		img.QualityScore = a.scorer.ScoreImage(*img, rels)
		img.NeedsReview = a.scorer.NeedsReview(img.QualityScore)
		out.ImagesScored++
		if img.NeedsReview {
			out.NeedsReview++
		}
		for _, rel := range rels {
			if pid := chunkProduct[rel.ChunkID]; pid != nil {
				linkedByProduct[*pid]++
			}
		}
	}
	if err := a.imageRepo.UpsertImages(ctx, images); err != nil {
		return ScoreQualityOutput{}, err
	}

	products, err := a.productRepo.ListAllProducts(ctx, in.DocumentID)
	if err != nil {
		return ScoreQualityOutput{}, err
	}
	for i := range products {
		p := &products[i]
		p.QualityScore = a.scorer.ScoreProduct(*p, linkedByProduct[p.ProductID])
		p.NeedsReview = a.scorer.NeedsReview(p.QualityScore)
		out.ProductsScored++
		if p.NeedsReview {
			out.NeedsReview++
		}
	}
	if err := a.productRepo.UpsertProducts(ctx, products); err != nil {
		return ScoreQualityOutput{}, err
	}
	return out, nil
}

func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	chunks, err := a.chunkRepo.ListAllChunks(ctx, in.DocumentID)
	if err != nil {
		return EmbedChunksOutput{}, err
	}
	if len(chunks) == 0 {
		return EmbedChunksOutput{}, nil
	}

	provider, ref := a.providers.EmbedProviderByIndex(in.ProviderIndex)
	inputs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		inputs = append(inputs, c.Text)
	}
	vecs, info, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: "embed_chunks",
		Inputs:    inputs,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return EmbedChunksOutput{}, fmt.Errorf("embed chunks via %s: %w", ref.Name, err)
	}
	if err := checkVectorCount(ref.Name, len(vecs), len(inputs)); err != nil {
		return EmbedChunksOutput{}, err
	}
	for i, c := range chunks {
		if a.cancelRequested(ctx, in.JobID) {
			return EmbedChunksOutput{Embedded: i, Provider: info.Name, Cancelled: true}, nil
		}
		literal := vector.ToLiteral(vecs[i])
		if err := a.chunkRepo.UpdateChunkEmbedding(ctx, c.ChunkID, a.cfg.EmbedVersion, literal); err != nil {
			return EmbedChunksOutput{}, err
		}
	}
	return EmbedChunksOutput{Embedded: len(chunks), Provider: info.Name}, nil
}

func (a *Activities) WriteCheckpointActivity(ctx context.Context, in WriteCheckpointInput) error {
	return a.checkpointRepo.WriteCheckpoint(ctx, in.Checkpoint)
}

func (a *Activities) GetCheckpointsActivity(ctx context.Context, in GetCheckpointsInput) (GetCheckpointsOutput, error) {
	cps, err := a.checkpointRepo.ListCheckpoints(ctx, in.JobID)
	if err != nil {
		return GetCheckpointsOutput{}, err
	}
	return GetCheckpointsOutput{Checkpoints: cps}, nil
}

func (a *Activities) UpdateJobStageActivity(ctx context.Context, in UpdateJobStageInput) error {
	return a.jobRepo.UpdateJobStage(ctx, in.JobID, in.Stage)
}

func (a *Activities) UpdateJobStatusActivity(ctx context.Context, in UpdateJobStatusInput) error {
	return a.jobRepo.UpdateJobStatus(ctx, in.JobID, in.Status, in.FailReason)
}

func (a *Activities) MergeJobMetadataActivity(ctx context.Context, in MergeJobMetadataInput) error {
	return a.jobRepo.MergeJobMetadata(ctx, in.JobID, in.Patch)
}

func (a *Activities) IsCancelRequestedActivity(ctx context.Context, in IsCancelRequestedInput) (bool, error) {
	return a.jobRepo.IsCancelRequested(ctx, in.JobID)
}

// WriteDocumentArtifactsActivity dumps the document's processed entities as
// JSON artifacts for operators to inspect without querying the database.
func (a *Activities) WriteDocumentArtifactsActivity(ctx context.Context, in WriteDocumentArtifactsInput) (WriteDocumentArtifactsOutput, error) {
	dir := util.SafeJoin(a.cfg.DataOutRoot, in.DocumentID)
	if err := util.EnsureDir(dir); err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}

	chunks, err := a.chunkRepo.ListAllChunks(ctx, in.DocumentID)
	if err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}
	rows := make([]any, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, c)
	}
	if err := util.WriteJSONLinesAtomic(filepath.Join(dir, "chunks.jsonl"), rows); err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}

	products, err := a.productRepo.ListAllProducts(ctx, in.DocumentID)
	if err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].PageStart < products[j].PageStart })
	if err := util.WriteJSONAtomic(filepath.Join(dir, "products.json"), products); err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}

	images, err := a.imageRepo.ListAllImages(ctx, in.DocumentID)
	if err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}
	if err := util.WriteJSONAtomic(filepath.Join(dir, "images.json"), images); err != nil {
		return WriteDocumentArtifactsOutput{}, err
	}
	return WriteDocumentArtifactsOutput{Dir: dir}, nil
}
