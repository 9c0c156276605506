package pipefy

// GraphQL documents for the upstream operations. Field selections mirror
// what the console actually consumes; ids come back as either numbers or
// strings depending on the node, which is why everything decodes via FlexID.

const queryCurrentUser = `
query {
  me {
    id
    name
    email
    username
  }
}`

const queryOrganizationMembers = `
query ($orgId: ID!) {
  organization(id: $orgId) {
    members {
      role_name
      user {
        id
        name
        email
        username
      }
    }
  }
}`

const queryOrganizationPipes = `
query ($orgId: ID!) {
  organization(id: $orgId) {
    pipes {
      id
      name
      start_form_fields {
        id
        label
      }
      phases {
        id
        name
        done
        fields {
          id
          label
        }
      }
    }
  }
}`

const queryCardsInPhase = `
query ($phaseId: ID!, $first: Int!, $after: String) {
  phase(id: $phaseId) {
    cards(first: $first, after: $after) {
      pageInfo {
        hasNextPage
        endCursor
      }
      edges {
        node {
          id
          title
          current_phase {
            id
            name
          }
          fields {
            name
            value
            field {
              id
            }
            connected_repo_items {
              id
              title
            }
          }
        }
      }
    }
  }
}`

const queryCardByID = `
query ($cardId: ID!) {
  card(id: $cardId) {
    id
    title
    current_phase {
      id
      name
    }
    fields {
      name
      value
      field {
        id
      }
      connected_repo_items {
        id
        title
      }
    }
  }
}`

const queryFindUser = `
query ($email: String!) {
  findUser(email: $email) {
    id
    name
    email
    username
  }
}`

const queryAllOrganizationsMembers = `
query {
  organizations {
    id
    members {
      user {
        id
        name
        email
        username
      }
    }
  }
}`
