package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// DuelReport represents a duel report message
type DuelReport struct {
	ReporterID string `json:"reporter_id"`
	Content    string `json:"content"`
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "duel-reports", "Kafka topic")
	reporter := flag.String("reporter", "", "Platform id of the reporting player")
	content := flag.String("link", "", "Duel summary link or message containing it")
	fromStdin := flag.Bool("stdin", false, "Read \"<reporter> <link>\" lines from stdin")
	flag.Parse()

	var reports []DuelReport
	if *fromStdin {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			id, text, ok := strings.Cut(line, " ")
			if !ok {
				log.Printf("Skipping malformed line: %q", line)
				continue
			}
			reports = append(reports, DuelReport{ReporterID: id, Content: strings.TrimSpace(text)})
		}
		if err := scanner.Err(); err != nil {
			log.Fatalf("Failed to read stdin: %v", err)
		}
	} else {
		if *reporter == "" || *content == "" {
			fmt.Fprintln(os.Stderr, "usage: duel-reporter -reporter <id> -link <duel link>")
			flag.PrintDefaults()
			os.Exit(2)
		}
		reports = append(reports, DuelReport{ReporterID: *reporter, Content: *content})
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	sent, failed := 0, 0
	for _, report := range reports {
		data, err := json.Marshal(report)
		if err != nil {
			log.Printf("Failed to marshal report: %v", err)
			failed++
			continue
		}

		partition, offset, err := producer.SendMessage(&sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(report.ReporterID),
			Value: sarama.ByteEncoder(data),
		})
		if err != nil {
			log.Printf("Failed to send report from %s: %v", report.ReporterID, err)
			failed++
			continue
		}
		sent++
		fmt.Printf("Report from %s sent (partition %d, offset %d)\n", report.ReporterID, partition, offset)
	}

	fmt.Printf("Completed. Sent: %d, Errors: %d\n", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
