// Package compose is the composition root's heavy lifting: turning a
// loaded config.Config into running pipeline.TargetSpecs, provider clients,
// and model.User accounts, and installing the results into an httpapi.App.
// It is grounded on the teacher's work/proxy.ImportStreams (fan out over
// sources, build, swap into the live Restreamer) but split out of main.go
// the way the teacher keeps its own orchestration in work/proxy rather than
// main.go itself, so main.go stays a thin bootstrap.
package compose

import (
	"context"
	"sort"
	"time"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/config"
	"kptv-proxy/work/filter"
	"kptv-proxy/work/httpapi"
	"kptv-proxy/work/logger"
	"kptv-proxy/work/mapper"
	"kptv-proxy/work/model"
	"kptv-proxy/work/pipeline"
	"kptv-proxy/work/providerclient"
)

// Builder runs the config -> running-target transformation against one App.
type Builder struct {
	app     *httpapi.App
	log     *logger.Logger
	filters *filter.Manager
}

// NewBuilder returns a Builder targeting app.
func NewBuilder(app *httpapi.App) *Builder {
	return &Builder{app: app, log: app.Log, filters: filter.NewManager()}
}

// BuildAll fetches every configured source, builds every configured target,
// and atomically swaps the results into the App. Per-source and per-target
// failures are logged and skipped rather than aborting the whole run, so one
// broken provider doesn't take down every other target (spec §7: config
// loading fails loudly, but a live source going bad at runtime degrades
// gracefully).
func (b *Builder) BuildAll(ctx context.Context) error {
	cfg := b.app.Config()
	b.ensureClients(cfg)

	sourceItems := make(map[string][]*model.Item, len(cfg.Sources))
	for _, src := range cfg.Sources {
		client, ok := b.app.Clients[src.Name]
		if !ok {
			continue
		}
		items, err := b.app.Fetcher.Fetch(ctx, client, src)
		if err != nil {
			b.log.Warn("{compose - BuildAll} source %q fetch failed: %v", src.Name, err)
			continue
		}
		sourceItems[src.Name] = items
	}

	targets := make(map[string]*model.Target, len(cfg.Mapping.Targets))
	for _, td := range cfg.Mapping.Targets {
		t, err := b.buildTarget(ctx, cfg, td, sourceItems)
		if err != nil {
			b.log.Error("{compose - BuildAll} target %q build failed: %v", td.Name, err)
			continue
		}
		targets[td.Name] = t
	}
	b.app.SetTargets(targets)
	b.app.SetUsers(buildUsers(cfg.APIProxy.Users))
	b.log.Info("{compose - BuildAll} built %d targets from %d sources", len(targets), len(sourceItems))
	return nil
}

func (b *Builder) ensureClients(cfg *config.Config) {
	for _, src := range cfg.Sources {
		if _, ok := b.app.Clients[src.Name]; ok {
			continue
		}
		client, err := providerclient.New(providerclient.Options{
			Name:           src.Name,
			MaxConnections: src.MaxConnections,
			MaxRetries:     src.MaxRetries,
			RetryDelay:     src.RetryDelay,
			ProxyURL:       src.ProxyURL,
			Headers: providerclient.HeaderPolicy{
				UserAgent: src.UserAgent,
				Origin:    src.ReqOrigin,
				Referrer:  src.ReqReferrer,
			},
			Log: b.log,
		})
		if err != nil {
			b.log.Error("{compose - ensureClients} source %q: %v", src.Name, err)
			continue
		}
		b.app.Clients[src.Name] = client
		b.app.ProviderConnCounter(src.Name, src.MaxConnections)
	}
}

func (b *Builder) buildTarget(ctx context.Context, cfg *config.Config, td config.TargetDef, sourceItems map[string][]*model.Item) (*model.Target, error) {
	order, err := pipeline.ParseProcessingOrder(td.ProcessingOrder)
	if err != nil {
		return nil, err
	}

	spec := pipeline.TargetSpec{
		Name:             td.Name,
		ProcessingOrder:  order,
		SortField:        td.SortField,
		SortDescending:   td.SortDescending,
		RemoveDuplicates: td.RemoveDuplicates,
		IgnoreLogo:       td.IgnoreLogo,
		Output:           outputConfigFromDef(td.Output),
	}

	for _, sourceName := range td.Sources {
		spec.Sources = append(spec.Sources, pipeline.Source{
			Name:   sourceName,
			Items:  sourceItems[sourceName],
			Staged: findSourceStaged(cfg.Sources, sourceName),
		})
	}

	filtersByName := indexFilters(cfg.Mapping.Filters)
	renamesByName := indexRenames(cfg.Mapping.Renames)
	mappersByName := indexMappers(cfg.Mapping.Mappers)

	for _, name := range td.Filters {
		def, ok := filtersByName[name]
		if !ok {
			continue
		}
		compiled, err := b.filters.Get(def.Expr, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.ConfigInvalid, "compile filter "+name, err)
		}
		spec.Filters = append(spec.Filters, compiled)
	}
	for _, name := range td.OutputFilters {
		def, ok := filtersByName[name]
		if !ok {
			continue
		}
		compiled, err := b.filters.Get(def.Expr, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.ConfigInvalid, "compile output filter "+name, err)
		}
		spec.OutputFilters = append(spec.OutputFilters, compiled)
	}
	for _, name := range td.Renames {
		def, ok := renamesByName[name]
		if !ok {
			continue
		}
		rule, err := b.compileRename(def, filtersByName)
		if err != nil {
			return nil, err
		}
		spec.Renames = append(spec.Renames, rule)
	}

	var counters []*mapper.Counter
	for _, name := range td.Mappers {
		def, ok := mappersByName[name]
		if !ok {
			continue
		}
		script, scriptCounters, err := b.compileMapper(def)
		if err != nil {
			return nil, apperr.Wrap(apperr.ConfigInvalid, "compile mapper "+name, err)
		}
		spec.Mappers = append(spec.Mappers, script)
		counters = append(counters, scriptCounters...)
	}

	items, err := b.app.Pipeline.Build(ctx, spec, counters)
	if err != nil {
		return nil, err
	}

	run, err := b.app.Registry.NextRun(td.Name)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		vid, err := b.app.Registry.Resolve(it.Input, it.ID, run)
		if err != nil {
			return nil, err
		}
		it.VirtualID = vid
		if it.Chno == 0 {
			it.Chno = b.app.Registry.Chno(it.Input, it.ID)
		}
	}
	if _, err := b.app.Registry.Prune(run); err != nil {
		b.log.Warn("{compose - buildTarget} prune for %q: %v", td.Name, err)
	}

	return &model.Target{
		Name:       td.Name,
		Items:      items,
		Categories: categoriesFor(items),
		SeriesInfo: make(map[uint64]*model.SeriesMeta),
		Output:     spec.Output,
	}, nil
}

func categoriesFor(items []*model.Item) map[string]int {
	seen := map[string]bool{}
	var names []string
	for _, it := range items {
		if it.Group == "" || seen[it.Group] {
			continue
		}
		seen[it.Group] = true
		names = append(names, it.Group)
	}
	sort.Strings(names)
	out := make(map[string]int, len(names))
	for i, name := range names {
		out[name] = i + 1
	}
	return out
}

func outputConfigFromDef(d config.OutputDef) model.OutputConfig {
	out := model.DefaultOutputConfig()
	out.IncludeTypeInURL = d.IncludeTypeInURL
	out.MaskRedirectURL = d.MaskRedirectURL
	if d.SkipLiveDirectSource != nil {
		out.SkipLiveDirectSource = *d.SkipLiveDirectSource
	}
	if d.SkipVideoDirectSource != nil {
		out.SkipVideoDirectSource = *d.SkipVideoDirectSource
	}
	if d.SkipSeriesDirectSource != nil {
		out.SkipSeriesDirectSource = *d.SkipSeriesDirectSource
	}
	return out
}

func findSourceStaged(sources []config.Input, name string) bool {
	for _, s := range sources {
		if s.Name == name {
			return s.Staged
		}
	}
	return false
}

func indexFilters(defs []config.FilterDef) map[string]config.FilterDef {
	out := make(map[string]config.FilterDef, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

func indexRenames(defs []config.RenameDef) map[string]config.RenameDef {
	out := make(map[string]config.RenameDef, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

func indexMappers(defs []config.MapperDef) map[string]config.MapperDef {
	out := make(map[string]config.MapperDef, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

func buildUsers(defs []config.UserDef) map[string]*model.User {
	out := make(map[string]*model.User, len(defs))
	for _, d := range defs {
		u := &model.User{
			Username:       d.Username,
			PasswordHash:   hashPassword(d.Password),
			Token:          d.Token,
			Target:         d.Target,
			ProxyMode:      parseProxyMode(d.ProxyMode),
			ReverseSubset:  parseReverseSubset(d.ReverseSubset),
			ServerName:     d.ServerName,
			EPGTimeshift:   d.EPGTimeshift,
			MaxConnections: d.MaxConnections,
			Status:         d.Status,
			UIEnabled:      d.UIEnabled,
		}
		if d.ExpDate != "" {
			if t, err := time.Parse(time.RFC3339, d.ExpDate); err == nil {
				u.ExpDate = &t
			}
		}
		out[u.Username] = u
	}
	return out
}

func parseProxyMode(s string) model.ProxyMode {
	switch s {
	case "reverse":
		return model.ModeReverse
	case "reverse_subset", "reverse[subset]":
		return model.ModeReverseSubset
	default:
		return model.ModeRedirect
	}
}

func parseReverseSubset(clusters []string) map[model.ItemType]bool {
	if len(clusters) == 0 {
		return nil
	}
	out := make(map[model.ItemType]bool, len(clusters))
	for _, c := range clusters {
		if t, ok := model.ParseItemType(c); ok {
			out[t] = true
		}
	}
	return out
}
