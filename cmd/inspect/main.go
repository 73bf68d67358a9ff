// Command inspect prints the rooms and messages stored in a Badger directory
// without modifying it.
package main

import (
	"flag"
	"fmt"
	"groupchat/domain"
	"groupchat/repositories"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	room := flag.String("room", "", "Room to dump, all rooms are listed when empty")
	flag.Parse()
	if *dbPath == "" {
		return fmt.Errorf("missing -db or BADGER_FILEPATH")
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		return fmt.Errorf("opening badger: %w", err)
	}
	defer db.Close()

	messages := repositories.NewMessageRepository(db, slog.New(slog.DiscardHandler))
	if *room == "" {
		return listRooms(os.Stdout, messages)
	}
	return dumpRoom(os.Stdout, messages, domain.RoomID(*room))
}

func listRooms(w io.Writer, messages *repositories.MessageRepository) error {
	rooms, err := messages.Rooms()
	if err != nil {
		return err
	}
	color.Fprintf(w, "<green>%d</> room(s)\n", len(rooms))

	table := newTable(w, "Room", "Messages", "Last message")
	for _, room := range rooms {
		history, err := messages.History(room)
		if err != nil {
			return err
		}
		last := "-"
		if len(history) > 0 {
			last = history[len(history)-1].Time
		}
		table.Append([]string{room.String(), strconv.Itoa(len(history)), last})
	}
	table.Render()
	return nil
}

func dumpRoom(w io.Writer, messages *repositories.MessageRepository, room domain.RoomID) error {
	history, err := messages.History(room)
	if err != nil {
		return err
	}
	color.Fprintf(w, "<green>%s</>: %d message(s)\n", room, len(history))

	table := newTable(w, "Time", "Username", "Message", "Image", "ID")
	for _, m := range history {
		table.Append([]string{m.Time, m.Username, m.Body, m.Image, shortID(m.ID)})
	}
	table.Render()
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// shortID keeps the random tail of a UUIDv7, the head only encodes time.
func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
