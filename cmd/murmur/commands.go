package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/copytarget"
	"github.com/MrWong99/murmur/internal/httpapi"
	"github.com/MrWong99/murmur/internal/i18n"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/stream"
	"github.com/MrWong99/murmur/pkg/markup"
	"github.com/MrWong99/murmur/pkg/message"
	"github.com/MrWong99/murmur/pkg/speech"
)

// errUsage reports a command line the subcommand already explained.
var errUsage = errors.New("usage")

// env carries what the offline subcommands share.
type env struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (e *env) flags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "usage: murmur %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses args and requires exactly one positional file argument.
func parse(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", errUsage
	}
	return fs.Arg(0), nil
}

// ── render ──────────────────────────────────────────────────────────────────

func (e *env) render(_ context.Context, args []string) error {
	fs := e.flags("render", "[-locale tag] [-json] <file>")
	locale := fs.String("locale", e.cfg.Locale, "UI locale for labels")
	asJSON := fs.Bool("json", false, "print markup and copy targets as JSON")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	msg, err := e.readMessage(path)
	if err != nil {
		return err
	}

	factory := markup.NewFactory(app.RenderOptions(e.cfg.Render), markup.ChromaLanguages{}, i18n.Default().Localizer)
	out, err := message.NewAssembler(factory.ForLocale(*locale)).Assemble(msg)
	if err != nil {
		return err
	}
	if !*asJSON {
		_, err = io.WriteString(e.stdout, out)
		return err
	}

	scope := copytarget.NewScope(copytarget.NewRegistry())
	defer scope.Close()
	annotated, _, err := scope.Update(message.Fingerprint(msg), out)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.RenderResult{
		ID:      msg.ID,
		Locale:  *locale,
		Markup:  annotated,
		Targets: scope.Targets(),
		Changed: true,
	})
}

// ── speak ───────────────────────────────────────────────────────────────────

func (e *env) speak(ctx context.Context, args []string) error {
	fs := e.flags("speak", "[-out file.wav] [-voice id] [-locale tag] <file>")
	out := fs.String("out", "speech.wav", "WAV file to write")
	voice := fs.String("voice", e.cfg.Speech.Voice, "provider voice id")
	locale := fs.String("locale", e.cfg.Locale, "locale used for sentence segmentation")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	msg, err := e.readMessage(path)
	if err != nil {
		return err
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildTTS(e.cfg, reg, nil)
	if err != nil {
		return err
	}
	if providers.TTS == nil {
		return app.ErrNoTTS
	}

	sink, err := audio.NewWAVFileSink(*out, app.OutputFormat)
	if err != nil {
		return err
	}
	player := stream.New(sink,
		stream.WithOutputFormat(app.OutputFormat),
		stream.WithSilenceFill(),
		stream.WithGap(app.ClipGap(e.cfg.Speech)),
	)
	o := speech.New(providers.TTS, player, speech.WithMinLength(e.cfg.Speech.ChunkMinLength))

	speakErr := o.SpeakMessage(ctx, msg, *locale, e.cfg.TTSLocale(), *voice)
	if speakErr == nil {
		speakErr = player.Wait(ctx)
	}
	closeErr := player.Close()
	if err := errors.Join(speakErr, player.Err(), closeErr); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "wrote %s\n", *out)
	return nil
}

// ── chunks ──────────────────────────────────────────────────────────────────

func (e *env) chunks(args []string) error {
	fs := e.flags("chunks", "[-min n] [-locale tag] <file>")
	minLength := fs.Int("min", e.cfg.Speech.ChunkMinLength, "merge threshold in characters")
	locale := fs.String("locale", e.cfg.Locale, "locale used for sentence segmentation")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	msg, err := e.readMessage(path)
	if err != nil {
		return err
	}
	text, err := speech.NewExtractor(nil).ExtractMessage(msg)
	if err != nil {
		return err
	}
	for i, c := range speech.Chunk(text, *locale, *minLength) {
		fmt.Fprintf(e.stdout, "%d\t%s\n", i+1, c)
	}
	return nil
}

// readMessage loads a message from path. JSON documents are decoded as
// messages; anything else becomes a single text part.
func (e *env) readMessage(path string) (message.Message, error) {
	var (
		data []byte
		err  error
		id   = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	)
	if path == "-" {
		data, err = io.ReadAll(e.stdin)
		id = "stdin"
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return message.Message{}, fmt.Errorf("read %s: %w", path, err)
	}

	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		var msg message.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return message.Message{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if msg.ID == "" {
			msg.ID = id
		}
		return msg, nil
	}
	return message.Message{
		ID:    id,
		Role:  message.RoleModel,
		Parts: []message.Part{message.TextPart{Text: string(data)}},
	}, nil
}
