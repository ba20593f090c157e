package providers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"chord-discord-bot/music/types"
	"chord-discord-bot/services/extractor"
	"chord-discord-bot/utils"
)

// Resolver turns user queries into playable track descriptors. YouTube URLs
// and searches are handled in-process; other direct media URLs pass through
// as HLS/other sources; everything else can fall back to the extractor
// sidecar when one is configured.
type Resolver struct {
	youtube   *YouTubeSource
	extractor *extractor.Client
}

// NewResolver builds the production resolver. sidecar may be nil.
func NewResolver(youtubeAPIKey string, sidecar *extractor.Client) *Resolver {
	return &Resolver{
		youtube:   NewYouTubeSource(youtubeAPIKey),
		extractor: sidecar,
	}
}

// Resolve maps a query to one or more tracks. A direct URL resolves itself,
// a playlist URL expands to at most opts.PlaylistLimit tracks, and free text
// becomes a search producing at most one track.
func (r *Resolver) Resolve(ctx context.Context, query string, opts types.ResolveOptions) (*types.ResolveResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.NewError(types.KindInvalidArgument, "empty query")
	}

	if isURL(query) {
		return r.resolveURL(ctx, query, opts)
	}

	track, err := r.youtube.Search(ctx, query)
	if err == nil {
		return &types.ResolveResult{Tracks: []types.Track{*track}}, nil
	}
	if r.extractor == nil {
		return nil, err
	}

	utils.LogWarn("Search failed for %q, trying extractor sidecar: %v", query, err)
	return r.resolveViaSidecar(ctx, "ytsearch:"+query, opts)
}

func (r *Resolver) resolveURL(ctx context.Context, rawURL string, opts types.ResolveOptions) (*types.ResolveResult, error) {
	switch {
	case isYouTubePlaylistURL(rawURL):
		return r.youtube.ResolvePlaylist(ctx, rawURL, opts.PlaylistLimit)
	case isYouTubeVideoURL(rawURL):
		track, err := r.youtube.ResolveVideo(ctx, rawURL)
		if err != nil {
			if r.extractor != nil {
				utils.LogWarn("YouTube resolve failed for %s, trying extractor sidecar: %v", rawURL, err)
				return r.resolveViaSidecar(ctx, rawURL, opts)
			}
			return nil, err
		}
		return &types.ResolveResult{Tracks: []types.Track{*track}}, nil
	default:
		return resolveDirectURL(rawURL)
	}
}

// resolveDirectURL treats a non-YouTube URL as directly playable media.
func resolveDirectURL(rawURL string) (*types.ResolveResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, types.NewError(types.KindInvalidArgument, fmt.Sprintf("invalid URL: %s", rawURL))
	}

	source := types.SourceOther
	live := false
	if strings.HasSuffix(strings.ToLower(parsed.Path), ".m3u8") {
		source = types.SourceHLS
		live = true
	}

	title := parsed.Path
	if idx := strings.LastIndex(title, "/"); idx >= 0 {
		title = title[idx+1:]
	}
	if title == "" {
		title = parsed.Host
	}

	track := types.Track{
		Title:     title,
		Artist:    parsed.Host,
		Source:    source,
		URL:       rawURL,
		StreamURL: rawURL,
		IsLive:    live,
	}
	return &types.ResolveResult{Tracks: []types.Track{track}}, nil
}

func (r *Resolver) resolveViaSidecar(ctx context.Context, query string, opts types.ResolveOptions) (*types.ResolveResult, error) {
	infos, err := r.extractor.Resolve(ctx, query, opts.PlaylistLimit, opts.SplitChapters)
	if err != nil {
		return nil, types.WrapError(types.KindTransientUpstream, "extractor service unavailable", err)
	}
	if len(infos) == 0 {
		return nil, types.NewError(types.KindNotFound, "no tracks found")
	}

	tracks := make([]types.Track, 0, len(infos))
	for _, info := range infos {
		track := types.Track{
			Title:        info.Title,
			Artist:       info.Uploader,
			Source:       sourceFromExtractor(info.Extractor),
			URL:          info.WebpageURL,
			StreamURL:    info.StreamURL,
			Length:       int(info.Duration),
			IsLive:       info.IsLive,
			ThumbnailURL: info.Thumbnail,
			LoudnessDB:   info.LoudnessDB,
		}
		if info.PlaylistURL != "" {
			track.Playlist = &types.PlaylistInfo{Title: info.PlaylistTitle, URL: info.PlaylistURL}
		}
		tracks = append(tracks, track)
	}
	return &types.ResolveResult{Tracks: tracks}, nil
}

func sourceFromExtractor(name string) types.MediaSource {
	switch {
	case strings.HasPrefix(strings.ToLower(name), "youtube"):
		return types.SourceYouTube
	case strings.Contains(strings.ToLower(name), "hls"):
		return types.SourceHLS
	default:
		return types.SourceOther
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

var (
	youtubeVideoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?.*v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`^https?://youtu\.be/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`^https?://m\.youtube\.com/watch\?.*v=([a-zA-Z0-9_-]{11})`),
	}
	youtubePlaylistPattern = regexp.MustCompile(`^https?://(www\.|m\.)?youtube\.com/playlist\?.*list=([a-zA-Z0-9_-]+)`)
)

func isYouTubeVideoURL(s string) bool {
	for _, p := range youtubeVideoPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func isYouTubePlaylistURL(s string) bool {
	return youtubePlaylistPattern.MatchString(s)
}

var _ types.Resolver = (*Resolver)(nil)
