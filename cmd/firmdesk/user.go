package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/config"
	"github.com/firmdesk/firmdesk/internal/models"
	"github.com/firmdesk/firmdesk/internal/store"
	"github.com/spf13/cobra"
)

// User management talks to the database directly rather than the API:
// the first partner account has to exist before anyone can hold a token.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage firm members (direct database access)",
}

var userAddCmd = &cobra.Command{
	Use:   "add [email]",
	Short: "Add a firm member and print their API token",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List firm members",
	RunE:  runUserList,
}

var (
	userRole    string
	userName    string
	userManager string
)

func init() {
	userCmd.AddCommand(userAddCmd, userListCmd)
	userCmd.PersistentFlags().StringVar(&configPath, "config", "firmdesk.yaml", "Path to the config file")

	userAddCmd.Flags().StringVar(&userRole, "role", auth.RoleAssociate, "Role (PARTNER, MANAGER, ASSOCIATE)")
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userAddCmd.Flags().StringVar(&userManager, "manager", "", "Manager email for escalation copies")
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return store.New(cfg.DBPath)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	token := hex.EncodeToString(buf)

	u := &models.User{
		Email:        args[0],
		DisplayName:  userName,
		Role:         auth.NormalizeRole(userRole),
		ManagerEmail: userManager,
		APIToken:     token,
		Active:       true,
	}
	if err := s.CreateUser(u); err != nil {
		return err
	}

	fmt.Printf("Created %s (%s)\n", u.Email, u.Role)
	fmt.Printf("API token: %s\n", token)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers()
	if err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tROLE\tMANAGER\tACTIVE")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", u.Email, u.Role, u.ManagerEmail, u.Active)
	}
	w.Flush()
	return nil
}
