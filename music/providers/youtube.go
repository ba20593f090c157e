package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

const (
	searchEndpoint       = "https://www.googleapis.com/youtube/v3/search"
	defaultPlaylistLimit = 50
)

// YouTubeSource resolves YouTube videos, playlists and searches. Stream URLs
// come from the innertube client; search needs a Data API key.
type YouTubeSource struct {
	client *youtube.Client
	apiKey string
	httpc  *http.Client
}

// NewYouTubeSource creates a YouTube source. apiKey may be empty, which
// disables free-text search.
func NewYouTubeSource(apiKey string) *YouTubeSource {
	return &YouTubeSource{
		client: &youtube.Client{},
		apiKey: apiKey,
		httpc:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ResolveVideo resolves a single video URL into a track.
func (yt *YouTubeSource) ResolveVideo(ctx context.Context, videoURL string) (*types.Track, error) {
	video, err := yt.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return nil, types.WrapError(types.KindTransientUpstream, "failed to fetch video info", err)
	}
	return yt.videoToTrack(video)
}

// ResolvePlaylist expands a playlist URL to at most limit tracks. Entries
// that fail to resolve are skipped rather than failing the whole expansion.
func (yt *YouTubeSource) ResolvePlaylist(ctx context.Context, playlistURL string, limit int) (*types.ResolveResult, error) {
	if limit <= 0 {
		limit = defaultPlaylistLimit
	}

	playlist, err := yt.client.GetPlaylistContext(ctx, playlistURL)
	if err != nil {
		return nil, types.WrapError(types.KindTransientUpstream, "failed to fetch playlist", err)
	}
	if len(playlist.Videos) == 0 {
		return nil, types.NewError(types.KindNotFound, "playlist is empty")
	}

	info := &types.PlaylistInfo{Title: playlist.Title, URL: playlistURL}

	truncated := false
	entries := playlist.Videos
	if len(entries) > limit {
		entries = entries[:limit]
		truncated = true
	}

	var tracks []types.Track
	for _, entry := range entries {
		video, err := yt.client.VideoFromPlaylistEntryContext(ctx, entry)
		if err != nil {
			utils.LogWarn("Skipping unresolvable playlist entry %s: %v", entry.ID, err)
			continue
		}
		track, err := yt.videoToTrack(video)
		if err != nil {
			utils.LogWarn("Skipping playlist entry %s: %v", entry.ID, err)
			continue
		}
		track.Playlist = info
		tracks = append(tracks, *track)
	}

	if len(tracks) == 0 {
		return nil, types.NewError(types.KindNotFound, "no playable tracks in playlist")
	}

	result := &types.ResolveResult{Tracks: tracks}
	if truncated {
		result.Message = fmt.Sprintf("playlist truncated to the first %d tracks", limit)
	}
	return result, nil
}

// Search finds the best match for a free-text query via the Data API, then
// resolves it like a video URL.
func (yt *YouTubeSource) Search(ctx context.Context, query string) (*types.Track, error) {
	if yt.apiKey == "" {
		return nil, types.NewError(types.KindNotFound,
			"search requires a YouTube API key; try a direct URL instead")
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("maxResults", "1")
	params.Set("q", query)
	params.Set("key", yt.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, "failed to create search request", err)
	}

	resp, err := yt.httpc.Do(req)
	if err != nil {
		return nil, types.WrapError(types.KindTransientUpstream, "search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.KindTransientUpstream,
			fmt.Sprintf("search returned status %d", resp.StatusCode))
	}

	var payload struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.WrapError(types.KindTransientUpstream, "failed to parse search response", err)
	}
	if len(payload.Items) == 0 || payload.Items[0].ID.VideoID == "" {
		return nil, types.NewError(types.KindNotFound, fmt.Sprintf("no results for %q", query))
	}

	return yt.ResolveVideo(ctx, "https://www.youtube.com/watch?v="+payload.Items[0].ID.VideoID)
}

func (yt *YouTubeSource) videoToTrack(video *youtube.Video) (*types.Track, error) {
	if video == nil {
		return nil, types.NewError(types.KindNotFound, "video not found")
	}

	format, err := bestAudioFormat(video)
	if err != nil {
		return nil, err
	}

	length := int(video.Duration.Seconds())

	return &types.Track{
		Title:        video.Title,
		Artist:       video.Author,
		Source:       types.SourceYouTube,
		SourceID:     video.ID,
		URL:          "https://www.youtube.com/watch?v=" + video.ID,
		StreamURL:    format.URL,
		Length:       length,
		IsLive:       length == 0,
		ThumbnailURL: bestThumbnail(video),
	}, nil
}

// bestAudioFormat prefers audio-only opus, then the highest audio bitrate.
func bestAudioFormat(video *youtube.Video) (*youtube.Format, error) {
	var best *youtube.Format

	for i := range video.Formats {
		format := &video.Formats[i]
		if format.MimeType == "" || !strings.Contains(format.MimeType, "audio") {
			continue
		}
		if strings.Contains(format.MimeType, "opus") {
			return format, nil
		}
		if best == nil || format.Bitrate > best.Bitrate {
			best = format
		}
	}

	if best == nil {
		for i := range video.Formats {
			format := &video.Formats[i]
			if format.AudioChannels > 0 && (best == nil || format.Bitrate > best.Bitrate) {
				best = format
			}
		}
	}

	if best == nil {
		return nil, types.NewError(types.KindNotFound, "no playable audio format found")
	}
	return best, nil
}

func bestThumbnail(video *youtube.Video) string {
	var best youtube.Thumbnail
	for _, thumbnail := range video.Thumbnails {
		if thumbnail.Width > best.Width {
			best = thumbnail
		}
	}
	return best.URL
}
