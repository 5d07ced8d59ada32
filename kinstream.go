package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/golang/snappy"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tinylib/msgp/msgp"
	"github.com/urfave/cli"

	"github.com/saksdirect/kinstream/kinstream"
)

var logInterval = 10 * time.Second

func openStreamConfig(streamName string) *kinstream.StreamConfig {
	fname := os.Getenv("KINSTREAM_CONFIG")
	if fname == "" {
		log.Fatalln("KINSTREAM_CONFIG not specified")
	}

	f, err := os.Open(fname)
	if err != nil {
		log.Fatalln("Failed to open config", err)
	}
	defer f.Close()

	c, err := kinstream.NewConfigFromFile(f)
	if err != nil {
		log.Fatalln("Failed to load config", err)
	}

	sc, err := c.ConfigForName(streamName)
	if err != nil {
		log.Fatalln("Failed to load config for stream", err)
	}

	return sc
}

func openDB(dbURL string) *sql.DB {
	driver := "sqlite3"
	if strings.HasPrefix(dbURL, "postgres:") {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dbURL)
	if err != nil {
		log.Fatalln("Failed to open db", err)
	}

	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	return db
}

func settingsFromContext(c *cli.Context) *kinstream.Settings {
	sc := openStreamConfig(c.String("stream"))
	s, err := sc.Settings()
	if err != nil {
		log.Fatalln("Bad stream config:", err)
	}
	return s
}

// stopOnSignal stops the given reader on SIGINT/SIGTERM.
func stopOnSignal(stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Println("Received signal:", s)
		stop()
	}()
}

// decodePayload turns a delivered payload into printable JSON. Payloads are
// msgpack maps, optionally snappy-compressed by the producer.
func decodePayload(data []byte, compressed bool) ([]byte, error) {
	if compressed {
		var err error
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy: %v", err)
		}
	}

	rec, _, err := msgp.ReadMapStrIntfBytes(data, nil)
	if err != nil {
		return nil, fmt.Errorf("msgpack: %v", err)
	}

	return json.Marshal(rec)
}

func tailStream(c *cli.Context) {
	s := settingsFromContext(c)

	r, err := kinstream.Read(s)
	if err != nil {
		log.Fatalln("Failed to open stream:", err)
	}

	// Raw payloads, no checkpointing
	pipe := kinstream.NewPassthroughPipe(r)
	stopOnSignal(pipe.Stop)

	for {
		rec, err := pipe.ReadRecord()
		if err != nil {
			if err != kinstream.ErrStreamClosed {
				raven.CaptureErrorAndWait(err, map[string]string{"stream": s.StreamName})
				log.Fatalln("Stream failed:", err)
			}
			return
		}

		out, err := decodePayload(rec.Data, c.Bool("snappy"))
		if err != nil {
			log.Println("Skipping undecodable record:", err)
			continue
		}
		fmt.Println(string(out))
	}
}

func consumeStream(c *cli.Context) {
	s := settingsFromContext(c)

	db := openDB(c.String("db"))
	defer db.Close()

	store, err := kinstream.NewCheckpointer(s.AppName, s.StreamName, db)
	if err != nil {
		log.Fatalln("Failed to open checkpointer:", err)
	}
	s.CheckpointStore = store

	r, err := kinstream.Read(s)
	if err != nil {
		log.Fatalln("Failed to open stream:", err)
	}

	pipe := kinstream.NewCheckpointPipe(r, s.CheckpointBatchSize, s.CheckpointBatchWindow)
	stopOnSignal(pipe.Stop)

	logTime := time.Now()
	recCount := 0
	for {
		rec, err := pipe.ReadRecord()
		if err != nil {
			if err != kinstream.ErrStreamClosed {
				raven.CaptureErrorAndWait(err, map[string]string{"stream": s.StreamName})
				log.Fatalln("Stream failed:", err)
			}
			return
		}

		recCount++
		if time.Since(logTime) >= logInterval {
			log.Printf("Checkpointed %d batches for %s, last at %s",
				recCount, s.StreamName, *rec.SequenceNumber)
			logTime = time.Now()
			recCount = 0
		}
	}
}

func forwardStream(c *cli.Context) {
	s := settingsFromContext(c)

	db := openDB(c.String("db"))
	defer db.Close()

	store, err := kinstream.NewCheckpointer(s.AppName, s.StreamName, db)
	if err != nil {
		log.Fatalln("Failed to open checkpointer:", err)
	}
	s.CheckpointStore = store

	fwd, err := newZMQForwarder(c.String("endpoint"), c.Int("hwm"), s.StreamName)
	if err != nil {
		log.Fatalln("Failed to connect forwarder:", err)
	}
	defer fwd.Close()

	r, err := kinstream.Read(s)
	if err != nil {
		log.Fatalln("Failed to open stream:", err)
	}

	pipe := kinstream.NewCheckpointPipe(r, s.CheckpointBatchSize, s.CheckpointBatchWindow)
	stopOnSignal(pipe.Stop)

	for {
		rec, err := pipe.ReadRecord()
		if err != nil {
			if err != kinstream.ErrStreamClosed {
				raven.CaptureErrorAndWait(err, map[string]string{"stream": s.StreamName})
				log.Fatalln("Stream failed:", err)
			}
			return
		}

		if err := fwd.Forward(rec.Data); err != nil {
			raven.CaptureErrorAndWait(err, map[string]string{"stream": s.StreamName})
			log.Fatalln("Failed to forward record:", err)
		}
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "kinstream"
	app.Usage = "consume Kinesis streams with batched checkpointing"

	streamFlag := cli.StringFlag{
		Name:  "stream",
		Usage: "stream config entry to consume",
	}
	dbFlag := cli.StringFlag{
		Name:  "db",
		Value: "kinstream.db",
		Usage: "checkpoint database (sqlite3 file or postgres:// url)",
	}

	app.Commands = []cli.Command{
		{
			Name:  "tail",
			Usage: "print a stream's records as JSON, without checkpointing",
			Flags: []cli.Flag{
				streamFlag,
				cli.BoolFlag{
					Name:  "snappy",
					Usage: "payloads are snappy compressed",
				},
			},
			Action: tailStream,
		},
		{
			Name:   "consume",
			Usage:  "consume a stream, checkpointing batches to a database",
			Flags:  []cli.Flag{streamFlag, dbFlag},
			Action: consumeStream,
		},
		{
			Name:  "forward",
			Usage: "consume a stream and push checkpointed records to zeromq",
			Flags: []cli.Flag{
				streamFlag,
				dbFlag,
				cli.StringFlag{
					Name:  "endpoint",
					Value: "tcp://127.0.0.1:3515",
					Usage: "zeromq push endpoint",
				},
				cli.IntFlag{
					Name:  "hwm",
					Value: defaultZMQHWM,
					Usage: "zeromq send high water mark",
				},
			},
			Action: forwardStream,
		},
	}

	app.Run(os.Args)
}
