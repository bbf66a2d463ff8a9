package aoip

import (
	"errors"
	"fmt"
	"os"

	"github.com/opd-ai/aoip/av"
	"github.com/opd-ai/aoip/av/audio"
	"github.com/opd-ai/aoip/config"
	"github.com/opd-ai/aoip/discovery"
	"github.com/opd-ai/aoip/factory"
	"github.com/opd-ai/aoip/stream"
	"github.com/sirupsen/logrus"
)

// NewNodeFromConfig builds a complete node from cfg: the offload provider
// and discovery backends it names, plus every configured stream.
func NewNodeFromConfig(cfg *config.Config) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	provider, err := factory.NewProviderFactory().CreateProviderWithConfig(cfg.Offload.ToOffload())
	if err != nil {
		return nil, fmt.Errorf("%w: offload: %w", ErrInvalidConfig, err)
	}

	var backends []discovery.Backend
	if len(cfg.Discovery.Backends) > 0 {
		b, err := discovery.New(cfg.Discovery.Backends, cfg.Discovery.TTL)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: discovery: %w", ErrInvalidConfig, err), provider.Close())
		}
		backends = append(backends, b)
	}

	n, err := NewNode(cfg, provider, backends...)
	if err != nil {
		return nil, errors.Join(err, provider.Close())
	}
	if err := n.LoadStreams(cfg.Streams); err != nil {
		return nil, errors.Join(err, n.Close())
	}
	return n, nil
}

// LoadStreams adds one engine per entry. Audio transmitters read their WAV
// file, or send silence when none is given; metadata transmitters send the
// file contents once per period; receivers write a WAV file, or discard.
// Streams added before a failing entry stay on the node.
func (n *Node) LoadStreams(streams []config.StreamConfig) error {
	for i := range streams {
		sc := &streams[i]
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("stream %d: %w", i, err)
		}
		info, err := sc.Info()
		if err != nil {
			return fmt.Errorf("stream %q: %w", sc.Name, err)
		}
		if sc.IsTransmit() {
			err = n.loadTransmitter(sc, info)
		} else {
			err = n.loadReceiver(sc, info)
		}
		if err != nil {
			return fmt.Errorf("stream %q: %w", sc.Name, err)
		}
	}
	return nil
}

func (n *Node) loadTransmitter(sc *config.StreamConfig, info stream.Info) error {
	tc := av.TransmitterConfig{Info: info}

	if info.Kind == stream.KindMetadata {
		var message []byte
		if sc.File != "" {
			data, err := os.ReadFile(sc.File)
			if err != nil {
				return err
			}
			message = data
		}
		tc.MetadataPull = func() ([]byte, bool) { return message, true }
		_, err := n.AddTransmitter(tc)
		return err
	}

	if sc.File == "" {
		tc.AudioPull = silence
		_, err := n.AddTransmitter(tc)
		return err
	}

	src, err := audio.OpenWAVSource(audio.WAVSourceConfig{
		Path:       sc.File,
		Channels:   info.Audio.Channels,
		SampleRate: info.SampleRate,
		Loop:       sc.Loop,
	})
	if err != nil {
		return err
	}
	tc.AudioPull = src.Pull
	if _, err := n.AddTransmitter(tc); err != nil {
		return errors.Join(err, src.Close())
	}
	n.attachCloser(info.Name, src)
	return nil
}

func (n *Node) loadReceiver(sc *config.StreamConfig, info stream.Info) error {
	svc := stream.Service{Info: info, Clock: n.domain}

	if sc.File == "" {
		_, err := n.AddReceiver(svc, av.ReceiverConfig{AudioPush: discard})
		return err
	}

	depth := info.Audio.BytesPerSample * 8
	if depth > 24 {
		depth = 24
	}
	sink, err := audio.CreateWAVSink(audio.WAVSinkConfig{
		Path:       sc.File,
		Channels:   info.Audio.Channels,
		SampleRate: info.SampleRate,
		BitDepth:   depth,
	})
	if err != nil {
		return err
	}
	if _, err := n.AddReceiver(svc, av.ReceiverConfig{AudioPush: sink.Push}); err != nil {
		return errors.Join(err, sink.Close())
	}
	n.attachCloser(info.Name, sink)

	logrus.WithFields(logrus.Fields{
		"function": "Node.loadReceiver",
		"stream":   info.Name,
		"file":     sc.File,
	}).Debug("Recording receiver to file")
	return nil
}

func silence(dst []int32, _ uint32) bool {
	clear(dst)
	return true
}

func discard([]int32, uint32) bool {
	return true
}
